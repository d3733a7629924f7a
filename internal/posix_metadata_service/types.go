package posix_metadata_service

import (
	"time"
)

type InodeType int

const (
	TypeFile InodeType = iota
	TypeDirectory
	TypeSymlink
)

func (t InodeType) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	}
	return "file"
}

type Attributes struct {
	InodeID    uint32
	Type       InodeType
	Mode       uint32
	LinkCount  uint32
	Size       int64
	Blocks     int
	XattrCount int
	AccessTime time.Time
	ModifyTime time.Time
	ChangeTime time.Time
	UID        uint32
	GID        uint32
}

type FileSystemStats struct {
	TotalSpace  int64
	UsedSpace   int64
	TotalInodes int64
	UsedInodes  int64
	BlockSize   int64
}

type DirEntry struct {
	Name    string
	InodeID uint32
	Type    InodeType
}

type DirEntryPlus struct {
	Name    string
	InodeID uint32
	Type    InodeType
	Inode   *Attributes
}

type FileSystemInfo struct {
	FsID            string
	RootInodeID     uint32
	BlockSize       int64
	MaxFileSize     int64
	MaxFilenameSize int
	MaxSymlinkSize  int
	CreatedAt       time.Time
}

// Access mask bits, as in access(2).
const (
	AccessExecute uint32 = 1
	AccessWrite   uint32 = 2
	AccessRead    uint32 = 4
)
