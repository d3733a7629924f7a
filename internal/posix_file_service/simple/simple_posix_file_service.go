package simple

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/filesystem"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"
	pms "github.com/AnishMulay/numbfs/internal/posix_metadata_service"
)

// SimplePosixFileService moves file bytes through the mounted volume and
// delegates everything else to the metadata service.
type SimplePosixFileService struct {
	ms        pms.PosixMetadataService
	fs        *filesystem.FileSystem
	ls        log_service.LogService
	blockSize int64
	maxSize   int64
}

func NewSimplePosixFileService(
	ms pms.PosixMetadataService,
	fs *filesystem.FileSystem,
	ls log_service.LogService,
) *SimplePosixFileService {
	return &SimplePosixFileService{
		ms:        ms,
		fs:        fs,
		ls:        ls,
		blockSize: disk.BlockSize,
		maxSize:   disk.MaxFileSize,
	}
}

// --- Lifecycle ---

func (s *SimplePosixFileService) Start() error {
	s.ls.Info(log_service.LogEvent{Message: "Starting Simple POSIX File Service"})

	if err := s.ms.Start(); err != nil {
		return err
	}

	info, err := s.ms.GetFsInfo(context.Background())
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to fetch FS Info during startup",
			Metadata: map[string]any{"error": err.Error()},
		})
		return err
	}
	s.blockSize = info.BlockSize
	s.maxSize = info.MaxFileSize
	s.ls.Info(log_service.LogEvent{
		Message:  "Configured File Service",
		Metadata: map[string]any{"blockSize": s.blockSize, "maxFileSize": s.maxSize},
	})
	return nil
}

func (s *SimplePosixFileService) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping Simple POSIX File Service"})
	return s.ms.Stop()
}

// --- Data Operations ---

func (s *SimplePosixFileService) Read(ctx context.Context, inodeID uint32, offset int64, length int64) ([]byte, error) {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Read Request",
		Metadata: map[string]any{"inodeID": inodeID, "offset": offset, "length": length},
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("read at %d length %d: %w", offset, length, fs_errors.ErrInvalidArgument)
	}

	ino, err := s.fs.Iget(inodeID)
	if err != nil {
		return nil, err
	}
	defer s.fs.Iput(ino)

	// Nothing past the size limit can exist.
	length = min(length, max(s.maxSize-offset, 0))
	buf := make([]byte, length)
	n, err := s.fs.Read(ino, buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to read file",
			Metadata: map[string]any{"inodeID": inodeID, "error": err.Error()},
		})
		return nil, err
	}
	return buf[:n], nil
}

func (s *SimplePosixFileService) Write(ctx context.Context, inodeID uint32, offset int64, data []byte) (int64, error) {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Write Request",
		Metadata: map[string]any{"inodeID": inodeID, "offset": offset, "len": len(data)},
	})
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ino, err := s.fs.Iget(inodeID)
	if err != nil {
		return 0, err
	}
	defer s.fs.Iput(ino)

	n, err := s.fs.Write(ino, data, offset)
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to write file",
			Metadata: map[string]any{"inodeID": inodeID, "written": n, "error": err.Error()},
		})
	}
	return int64(n), err
}

func (s *SimplePosixFileService) Truncate(ctx context.Context, inodeID uint32, size int64) (*pms.Attributes, error) {
	return s.ms.SetAttributes(ctx, inodeID, nil, nil, nil, &size, nil, nil)
}

// --- Directory & Metadata Operations (Delegation) ---

func (s *SimplePosixFileService) Create(ctx context.Context, parentInodeID uint32, name string, mode uint32, uid, gid uint32) (*pms.Attributes, error) {
	return s.ms.Create(ctx, parentInodeID, name, mode, uid, gid)
}

func (s *SimplePosixFileService) Mkdir(ctx context.Context, parentInodeID uint32, name string, mode uint32, uid, gid uint32) (*pms.Attributes, error) {
	return s.ms.Mkdir(ctx, parentInodeID, name, mode, uid, gid)
}

func (s *SimplePosixFileService) Symlink(ctx context.Context, parentInodeID uint32, name, target string, uid, gid uint32) (*pms.Attributes, error) {
	return s.ms.Symlink(ctx, parentInodeID, name, target, uid, gid)
}

func (s *SimplePosixFileService) Readlink(ctx context.Context, inodeID uint32) (string, error) {
	return s.ms.Readlink(ctx, inodeID)
}

func (s *SimplePosixFileService) Link(ctx context.Context, inodeID, parentInodeID uint32, name string) (*pms.Attributes, error) {
	return s.ms.Link(ctx, inodeID, parentInodeID, name)
}

func (s *SimplePosixFileService) Remove(ctx context.Context, parentInodeID uint32, name string) error {
	return s.ms.Remove(ctx, parentInodeID, name)
}

func (s *SimplePosixFileService) Rmdir(ctx context.Context, parentInodeID uint32, name string) error {
	return s.ms.Rmdir(ctx, parentInodeID, name)
}

func (s *SimplePosixFileService) Rename(ctx context.Context, srcParentID uint32, srcName string, dstParentID uint32, dstName string) error {
	return s.ms.Rename(ctx, srcParentID, srcName, dstParentID, dstName)
}

func (s *SimplePosixFileService) GetAttr(ctx context.Context, inodeID uint32) (*pms.Attributes, error) {
	return s.ms.GetAttributes(ctx, inodeID)
}

func (s *SimplePosixFileService) SetAttr(ctx context.Context, inodeID uint32, mode *uint32, uid, gid *uint32, atime, mtime *int64) (*pms.Attributes, error) {
	return s.ms.SetAttributes(ctx, inodeID, mode, uid, gid, nil, atime, mtime)
}

func (s *SimplePosixFileService) Lookup(ctx context.Context, parentInodeID uint32, name string) (uint32, error) {
	return s.ms.Lookup(ctx, parentInodeID, name)
}

func (s *SimplePosixFileService) LookupPath(ctx context.Context, path string) (uint32, error) {
	return s.ms.LookupPath(ctx, path)
}

func (s *SimplePosixFileService) Access(ctx context.Context, inodeID uint32, uid, gid uint32, accessMask uint32) error {
	return s.ms.Access(ctx, inodeID, uid, gid, accessMask)
}

func (s *SimplePosixFileService) ReadDir(ctx context.Context, inodeID uint32, cookie int, maxEntries int) ([]pms.DirEntry, int, bool, error) {
	return s.ms.ReadDir(ctx, inodeID, cookie, maxEntries)
}

func (s *SimplePosixFileService) ReadDirPlus(ctx context.Context, inodeID uint32, cookie int, maxEntries int) ([]pms.DirEntryPlus, int, bool, error) {
	return s.ms.ReadDirPlus(ctx, inodeID, cookie, maxEntries)
}

func (s *SimplePosixFileService) GetXattr(ctx context.Context, inodeID uint32, name string) ([]byte, error) {
	return s.ms.GetXattr(ctx, inodeID, name)
}

func (s *SimplePosixFileService) SetXattr(ctx context.Context, inodeID uint32, name string, value []byte, flags int) error {
	return s.ms.SetXattr(ctx, inodeID, name, value, flags)
}

func (s *SimplePosixFileService) ListXattr(ctx context.Context, inodeID uint32) ([]string, error) {
	return s.ms.ListXattr(ctx, inodeID)
}

func (s *SimplePosixFileService) RemoveXattr(ctx context.Context, inodeID uint32, name string) error {
	return s.ms.RemoveXattr(ctx, inodeID, name)
}

func (s *SimplePosixFileService) GetFsStat(ctx context.Context) (*pms.FileSystemStats, error) {
	return s.ms.GetFsStat(ctx)
}

func (s *SimplePosixFileService) GetFsInfo(ctx context.Context) (*pms.FileSystemInfo, error) {
	return s.ms.GetFsInfo(ctx)
}
