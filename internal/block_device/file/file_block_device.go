package file

import (
	"fmt"
	"os"

	"github.com/AnishMulay/numbfs/internal/block_device"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
)

// FileBlockDevice serves blocks out of an image file.
type FileBlockDevice struct {
	f      *os.File
	blocks uint32
}

// Open opens an existing image. A trailing partial block is ignored.
func Open(path string) (*FileBlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	return &FileBlockDevice{f: f, blocks: uint32(fi.Size() / disk.BlockSize)}, nil
}

// Create creates or truncates an image sized to hold blocks blocks.
func Create(path string, blocks uint32) (*FileBlockDevice, error) {
	if blocks == 0 {
		return nil, fmt.Errorf("empty image: %w", fs_errors.ErrInvalidArgument)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create image: %w", err)
	}
	if err := f.Truncate(int64(blocks) * disk.BlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate image file: %w", err)
	}
	return &FileBlockDevice{f: f, blocks: blocks}, nil
}

func (fb *FileBlockDevice) ReadBlock(addr uint32, p []byte) error {
	if err := block_device.CheckAccess(addr, p, fb.blocks); err != nil {
		return err
	}
	if _, err := fb.f.ReadAt(p, int64(addr)*disk.BlockSize); err != nil {
		return fmt.Errorf("disk read error at block %d: %w", addr, err)
	}
	return nil
}

func (fb *FileBlockDevice) WriteBlock(addr uint32, p []byte) error {
	if err := block_device.CheckAccess(addr, p, fb.blocks); err != nil {
		return err
	}
	if _, err := fb.f.WriteAt(p, int64(addr)*disk.BlockSize); err != nil {
		return fmt.Errorf("disk write error at block %d: %w", addr, err)
	}
	return nil
}

func (fb *FileBlockDevice) Flush() error {
	if err := fb.f.Sync(); err != nil {
		return fmt.Errorf("disk sync error: %w", err)
	}
	return nil
}

func (fb *FileBlockDevice) Blocks() uint32 {
	return fb.blocks
}

func (fb *FileBlockDevice) Close() error {
	if err := fb.f.Close(); err != nil {
		return fmt.Errorf("disk close error: %w", err)
	}
	return nil
}

var _ block_device.BlockDevice = (*FileBlockDevice)(nil)
