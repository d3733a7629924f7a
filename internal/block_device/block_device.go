package block_device

import (
	"fmt"

	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
)

// BlockDevice is the block I/O surface the filesystem core is written against.
// Buffers passed to ReadBlock and WriteBlock are exactly disk.BlockSize bytes.
type BlockDevice interface {
	ReadBlock(addr uint32, p []byte) error
	WriteBlock(addr uint32, p []byte) error
	Flush() error
	Blocks() uint32
	Close() error
}

// CheckAccess validates an address and buffer against a device of the given size.
func CheckAccess(addr uint32, p []byte, blocks uint32) error {
	if len(p) != disk.BlockSize {
		return fmt.Errorf("buffer of %d bytes, want %d: %w", len(p), disk.BlockSize, fs_errors.ErrInvalidArgument)
	}
	if addr >= blocks {
		return fmt.Errorf("block %d of %d: %w", addr, blocks, fs_errors.ErrOutOfRange)
	}
	return nil
}
