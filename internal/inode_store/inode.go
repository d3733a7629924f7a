package inode_store

import (
	"sync"
	"time"

	"github.com/AnishMulay/numbfs/internal/disk"
)

// Slot is one direct block pointer: either a data-region index or a hole.
type Slot struct {
	addr   uint32
	mapped bool
}

// Hole is the unallocated slot.
var Hole = Slot{}

func Mapped(addr uint32) Slot {
	return Slot{addr: addr, mapped: true}
}

// Addr returns the data-region index and whether the slot is mapped.
func (s Slot) Addr() (uint32, bool) {
	return s.addr, s.mapped
}

func (s Slot) IsHole() bool {
	return !s.mapped
}

func (s Slot) encode() uint32 {
	if !s.mapped {
		return disk.HoleAddr
	}
	return s.addr
}

// Kind is the file type fixed at allocation. It never changes, so it may be
// read without the inode lock.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// Inode is the in-memory inode. Fields are guarded by the inode lock;
// refs is guarded by the owning Store.
type Inode struct {
	mu    sync.Mutex
	store *Store
	kind  Kind

	Nid        uint32
	Mode       uint32
	Nlink      uint32
	UID        uint32
	GID        uint32
	Size       int64
	Slots      [disk.NumDataSlots]Slot
	XattrBlock uint32
	XattrCount uint16
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time

	dirty bool
	refs  int
}

func (ino *Inode) Lock()   { ino.mu.Lock() }
func (ino *Inode) Unlock() { ino.mu.Unlock() }

// Store reports the store, and so the mounted filesystem, the inode belongs to.
func (ino *Inode) Store() *Store { return ino.store }

func (ino *Inode) Kind() Kind { return ino.kind }

func (ino *Inode) IsDir() bool     { return ino.kind == KindDir }
func (ino *Inode) IsRegular() bool { return ino.kind == KindFile }
func (ino *Inode) IsSymlink() bool { return ino.kind == KindSymlink }

func (ino *Inode) DType() uint8 {
	switch ino.kind {
	case KindDir:
		return disk.DT_DIR
	case KindSymlink:
		return disk.DT_LNK
	}
	return disk.DT_REG
}

// MarkDirty schedules the inode for persistence. The caller holds the inode lock.
func (ino *Inode) MarkDirty() { ino.dirty = true }

func (ino *Inode) Dirty() bool { return ino.dirty }

// Touch sets mtime and ctime to now and marks the inode dirty.
func (ino *Inode) Touch() {
	now := time.Now().UTC()
	ino.Mtime = now
	ino.Ctime = now
	ino.dirty = true
}

// TouchCtime records a metadata-only change.
func (ino *Inode) TouchCtime() {
	ino.Ctime = time.Now().UTC()
	ino.dirty = true
}

// MappedBlocks counts non-hole slots.
func (ino *Inode) MappedBlocks() int {
	n := 0
	for _, s := range ino.Slots {
		if s.mapped {
			n++
		}
	}
	return n
}

func kindOf(mode uint32) (Kind, bool) {
	switch mode & disk.S_IFMT {
	case disk.S_IFDIR:
		return KindDir, true
	case disk.S_IFREG:
		return KindFile, true
	case disk.S_IFLNK:
		return KindSymlink, true
	}
	return 0, false
}
