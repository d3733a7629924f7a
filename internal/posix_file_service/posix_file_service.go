package posix_file_service

import (
	"context"

	pms "github.com/AnishMulay/numbfs/internal/posix_metadata_service"
)

type PosixFileService interface {
	// --- Lifecycle ---
	Start() error
	Stop() error

	// --- 1. GETATTR / SETATTR ---
	GetAttr(ctx context.Context, inodeID uint32) (*pms.Attributes, error)
	// SetAttr updates specific attributes. Pointers allow partial updates (nil = no change).
	SetAttr(ctx context.Context, inodeID uint32, mode *uint32, uid, gid *uint32, atime, mtime *int64) (*pms.Attributes, error)

	// --- 2. LOOKUP ---
	// LookupPath resolves a full path (e.g. "/home/user") to an inode id.
	LookupPath(ctx context.Context, path string) (uint32, error)
	Lookup(ctx context.Context, parentInodeID uint32, name string) (uint32, error)

	// --- 3. ACCESS ---
	Access(ctx context.Context, inodeID uint32, uid, gid uint32, accessMask uint32) error

	// --- 4. READ / WRITE / TRUNCATE ---
	// Read returns at most length bytes from offset; a short result means end of file.
	Read(ctx context.Context, inodeID uint32, offset int64, length int64) ([]byte, error)
	// Write stores data at offset. A write crossing the file size limit is cut
	// short and reports how much landed.
	Write(ctx context.Context, inodeID uint32, offset int64, data []byte) (int64, error)
	Truncate(ctx context.Context, inodeID uint32, size int64) (*pms.Attributes, error)

	// --- 5. NAMESPACE ---
	Create(ctx context.Context, parentInodeID uint32, name string, mode uint32, uid, gid uint32) (*pms.Attributes, error)
	Mkdir(ctx context.Context, parentInodeID uint32, name string, mode uint32, uid, gid uint32) (*pms.Attributes, error)
	Symlink(ctx context.Context, parentInodeID uint32, name, target string, uid, gid uint32) (*pms.Attributes, error)
	Readlink(ctx context.Context, inodeID uint32) (string, error)
	Link(ctx context.Context, inodeID, parentInodeID uint32, name string) (*pms.Attributes, error)
	// Remove unlinks a file. Its blocks are released with the last link.
	Remove(ctx context.Context, parentInodeID uint32, name string) error
	Rmdir(ctx context.Context, parentInodeID uint32, name string) error
	Rename(ctx context.Context, srcParentID uint32, srcName string, dstParentID uint32, dstName string) error

	// --- 6. READDIR ---
	ReadDir(ctx context.Context, inodeID uint32, cookie int, maxEntries int) ([]pms.DirEntry, int, bool, error)
	ReadDirPlus(ctx context.Context, inodeID uint32, cookie int, maxEntries int) ([]pms.DirEntryPlus, int, bool, error)

	// --- 7. XATTR ---
	GetXattr(ctx context.Context, inodeID uint32, name string) ([]byte, error)
	SetXattr(ctx context.Context, inodeID uint32, name string, value []byte, flags int) error
	ListXattr(ctx context.Context, inodeID uint32) ([]string, error)
	RemoveXattr(ctx context.Context, inodeID uint32, name string) error

	// --- 8. FSSTAT / FSINFO ---
	GetFsStat(ctx context.Context) (*pms.FileSystemStats, error)
	GetFsInfo(ctx context.Context) (*pms.FileSystemInfo, error)
}
