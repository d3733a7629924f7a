// Package disk holds the numbfs on-disk format: geometry constants and
// encoders/decoders for every persisted record. Nothing here performs I/O.
package disk

import (
	"golang.org/x/exp/constraints"
)

const (
	BlockBits = 9
	BlockSize = 1 << BlockBits

	Magic = 0x4E554D42

	SuperBlockAddr = 0
	RootNid        = 0

	BitsPerBlock = BlockSize * 8

	InodeSize      = 64
	InodesPerBlock = BlockSize / InodeSize
	NumDataSlots   = 10
	MaxFileSize    = NumDataSlots * BlockSize

	// HoleAddr is the on-disk encoding of an unmapped data slot.
	HoleAddr = 0xFFFFFFFF

	DirentSize      = 64
	DirentsPerBlock = BlockSize / DirentSize
	MaxNameLen      = DirentSize - direntNameOff

	TimestampRegionSize = 64
	XattrEntrySize      = 88
	MaxXattrName        = 20
	MaxXattrValue       = 64
	MaxXattrEntries     = (BlockSize - TimestampRegionSize) / XattrEntrySize

	MaxSymlinkLen = BlockSize
)

// File type bits of Inode.Mode.
const (
	S_IFMT   = 0o170000
	S_IFLNK  = 0o120000
	S_IFREG  = 0o100000
	S_IFDIR  = 0o040000
	S_ISUID  = 0o004000
	S_ISGID  = 0o002000
	S_ISVTX  = 0o001000
	PermMask = 0o7777
)

// Directory record type tags.
const (
	DT_UNKNOWN = 0
	DT_DIR     = 4
	DT_REG     = 8
	DT_LNK     = 10
)

// DivRoundUp returns ceil(n / d).
func DivRoundUp[T constraints.Integer](n, d T) T {
	return (n + d - 1) / d
}

// DType returns the directory record tag for a mode, DT_UNKNOWN for types numbfs cannot store.
func DType(mode uint32) uint8 {
	switch mode & S_IFMT {
	case S_IFDIR:
		return DT_DIR
	case S_IFREG:
		return DT_REG
	case S_IFLNK:
		return DT_LNK
	}
	return DT_UNKNOWN
}
