package posix_metadata_service

import (
	"context"
)

type PosixMetadataService interface {
	// --- Lifecycle ---
	Start() error
	Stop() error

	// --- 1. GETATTR ---
	GetAttributes(ctx context.Context, inodeID uint32) (*Attributes, error)

	// --- 2. SETATTR ---
	// SetAttributes updates the given fields (chmod, chown, utimes, truncate).
	// Times are Unix nanoseconds.
	SetAttributes(ctx context.Context, inodeID uint32, mode *uint32, uid, gid *uint32, size *int64, atime, mtime *int64) (*Attributes, error)

	// --- 3. LOOKUP ---
	// Lookup resolves a child name within a directory to an inode id.
	Lookup(ctx context.Context, parentInodeID uint32, name string) (uint32, error)
	// LookupPath resolves a path from the root directory.
	LookupPath(ctx context.Context, path string) (uint32, error)

	// --- 4. ACCESS ---
	Access(ctx context.Context, inodeID uint32, uid, gid uint32, accessMask uint32) error

	// --- 5. CREATE / MKDIR / SYMLINK / LINK ---
	Create(ctx context.Context, parentInodeID uint32, name string, mode uint32, uid, gid uint32) (*Attributes, error)
	Mkdir(ctx context.Context, parentInodeID uint32, name string, mode uint32, uid, gid uint32) (*Attributes, error)
	Symlink(ctx context.Context, parentInodeID uint32, name, target string, uid, gid uint32) (*Attributes, error)
	Readlink(ctx context.Context, inodeID uint32) (string, error)
	Link(ctx context.Context, inodeID, parentInodeID uint32, name string) (*Attributes, error)

	// --- 6. REMOVE / RMDIR / RENAME ---
	Remove(ctx context.Context, parentInodeID uint32, name string) error
	Rmdir(ctx context.Context, parentInodeID uint32, name string) error
	Rename(ctx context.Context, srcParentID uint32, srcName string, dstParentID uint32, dstName string) error

	// --- 7. READDIR ---
	// cookie is a record index (0 = start); the returned cookie resumes the listing.
	ReadDir(ctx context.Context, inodeID uint32, cookie int, maxEntries int) ([]DirEntry, int, bool, error)
	ReadDirPlus(ctx context.Context, inodeID uint32, cookie int, maxEntries int) ([]DirEntryPlus, int, bool, error)

	// --- 8. XATTR ---
	GetXattr(ctx context.Context, inodeID uint32, name string) ([]byte, error)
	SetXattr(ctx context.Context, inodeID uint32, name string, value []byte, flags int) error
	ListXattr(ctx context.Context, inodeID uint32) ([]string, error)
	RemoveXattr(ctx context.Context, inodeID uint32, name string) error

	// --- 9. FSSTAT / FSINFO ---
	GetFsStat(ctx context.Context) (*FileSystemStats, error)
	GetFsInfo(ctx context.Context) (*FileSystemInfo, error)
}
