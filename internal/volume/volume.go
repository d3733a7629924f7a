// Package volume turns a Config into a mounted filesystem with its services.
package volume

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/AnishMulay/numbfs/internal/block_device"
	"github.com/AnishMulay/numbfs/internal/block_device/file"
	"github.com/AnishMulay/numbfs/internal/block_device/remote"
	"github.com/AnishMulay/numbfs/internal/config"
	"github.com/AnishMulay/numbfs/internal/filesystem"
	"github.com/AnishMulay/numbfs/internal/log_service"
	"github.com/AnishMulay/numbfs/internal/log_service/console"
	"github.com/AnishMulay/numbfs/internal/log_service/localdisc"
	pfs "github.com/AnishMulay/numbfs/internal/posix_file_service"
	"github.com/AnishMulay/numbfs/internal/posix_file_service/simple"
	pms "github.com/AnishMulay/numbfs/internal/posix_metadata_service"
	"github.com/AnishMulay/numbfs/internal/posix_metadata_service/ondisk"
	"github.com/AnishMulay/numbfs/internal/superblock"
)

// NewLogService builds the logger described by cfg. Without a log directory
// it writes to stderr. The returned closer releases the log file.
func NewLogService(cfg config.Log) (log_service.LogService, io.Closer, error) {
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	if cfg.Dir == "" {
		return console.NewConsoleLogService(os.Stderr, nodeID, cfg.Level), io.NopCloser(nil), nil
	}
	ls, err := localdisc.NewLocalDiscLogService(cfg.Dir, nodeID, cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	return ls, ls, nil
}

// OpenDevice opens the image file or dials the block server named by cfg.
func OpenDevice(cfg *config.Config, ls log_service.LogService) (block_device.BlockDevice, error) {
	if cfg.Remote != "" {
		return remote.Dial(cfg.Remote, ls, remote.WithTimeout(cfg.RemoteTimeout))
	}
	return file.Open(cfg.Image)
}

// Mkfs formats the configured device with cfg.Geometry. A local image is
// created, or truncated, to exactly the size the layout needs.
func Mkfs(cfg *config.Config, ls log_service.LogService) error {
	g := cfg.Geometry.Superblock()
	sb, err := superblock.NewLayout(g)
	if err != nil {
		return err
	}

	var dev block_device.BlockDevice
	if cfg.Remote != "" {
		dev, err = remote.Dial(cfg.Remote, ls, remote.WithTimeout(cfg.RemoteTimeout))
	} else {
		dev, err = file.Create(cfg.Image, sb.DeviceBlocks())
	}
	if err != nil {
		return err
	}
	return errors.Join(filesystem.Format(dev, g, ls), dev.Close())
}

type Volume struct {
	Device   block_device.BlockDevice
	FS       *filesystem.FileSystem
	Metadata pms.PosixMetadataService
	Files    pfs.PosixFileService
}

// Open mounts the configured device and starts the services on it.
func Open(cfg *config.Config, ls log_service.LogService) (*Volume, error) {
	dev, err := OpenDevice(cfg, ls)
	if err != nil {
		return nil, err
	}
	fs, err := filesystem.Mount(dev, filesystem.Options{CacheBlocks: cfg.CacheBlocks, Logger: ls})
	if err != nil {
		dev.Close()
		return nil, err
	}

	ms := ondisk.NewOnDiskPosixMetadataService(fs, ls)
	files := simple.NewSimplePosixFileService(ms, fs, ls)
	if err := files.Start(); err != nil {
		fs.Unmount()
		dev.Close()
		return nil, fmt.Errorf("starting file service: %w", err)
	}
	return &Volume{Device: dev, FS: fs, Metadata: ms, Files: files}, nil
}

// Close stops the services, unmounts and closes the device.
func (v *Volume) Close() error {
	return errors.Join(v.Files.Stop(), v.FS.Unmount(), v.Device.Close())
}
