package xattr_store

import (
	"fmt"
	"strings"

	"github.com/AnishMulay/numbfs/internal/buffer_cache"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/inode_store"
	"github.com/AnishMulay/numbfs/internal/log_service"
)

// Flags for Set.
const (
	XattrCreate  = 1
	XattrReplace = 2
)

var namespaces = []struct {
	prefix string
	index  uint8
}{
	{"user.", disk.XattrIndexUser},
	{"trusted.", disk.XattrIndexTrusted},
}

// ParseName splits "user.foo" into its namespace index and bare name.
func ParseName(full string) (uint8, string, error) {
	for _, ns := range namespaces {
		if name, ok := strings.CutPrefix(full, ns.prefix); ok {
			return ns.index, name, nil
		}
	}
	return 0, "", fmt.Errorf("xattr %q: %w", full, fs_errors.ErrUnsupported)
}

// FullName is the inverse of ParseName.
func FullName(index uint8, name string) string {
	for _, ns := range namespaces {
		if ns.index == index {
			return ns.prefix + name
		}
	}
	return fmt.Sprintf("unknown%d.%s", index, name)
}

// Store keeps a fixed array of attribute slots in each inode's xattr block.
// Callers hold the inode lock.
type Store struct {
	inodes *inode_store.Store
	ls     log_service.LogService
}

func NewStore(inodes *inode_store.Store, ls log_service.LogService) *Store {
	return &Store{inodes: inodes, ls: ls}
}

func (x *Store) block(ino *inode_store.Inode) (*buffer_cache.Buffer, error) {
	return x.inodes.Cache().Get(x.inodes.Superblock().DataBlock(ino.XattrBlock))
}

// find returns the offset of the valid slot holding (index, name), or -1.
func find(block []byte, index uint8, name string) int {
	for i := 0; i < disk.MaxXattrEntries; i++ {
		off := disk.XattrEntryOffset(i)
		if disk.XattrEntryMatches(block[off:off+disk.XattrEntrySize], index, name) {
			return off
		}
	}
	return -1
}

// Get copies the value of (index, name) into buf and returns its length.
// An empty buf asks only for the length.
func (x *Store) Get(ino *inode_store.Inode, index uint8, name string, buf []byte) (int, error) {
	xb, err := x.block(ino)
	if err != nil {
		return 0, err
	}
	defer x.inodes.Cache().Put(xb)
	xb.Lock()
	defer xb.Unlock()

	off := find(xb.Data(), index, name)
	if off < 0 {
		return 0, fmt.Errorf("xattr %s on inode %d: %w", FullName(index, name), ino.Nid, fs_errors.ErrNoAttribute)
	}
	slot := xb.Data()[off : off+disk.XattrEntrySize]
	n := disk.XattrEntryValueLen(slot)
	if len(buf) == 0 {
		return n, nil
	}
	if len(buf) < n {
		return 0, fmt.Errorf("xattr %s needs %d bytes, buffer has %d: %w", FullName(index, name), n, len(buf), fs_errors.ErrRange)
	}
	return copy(buf, disk.XattrEntryValue(slot)), nil
}

// Set stores value under (index, name). An empty value removes the attribute.
func (x *Store) Set(ino *inode_store.Inode, index uint8, name string, value []byte, flags int) error {
	if name == "" || len(name) > disk.MaxXattrName || len(value) > disk.MaxXattrValue {
		return fmt.Errorf("xattr name %d bytes, value %d bytes: %w", len(name), len(value), fs_errors.ErrRange)
	}

	xb, err := x.block(ino)
	if err != nil {
		return err
	}
	defer x.inodes.Cache().Put(xb)
	xb.Lock()
	defer xb.Unlock()
	block := xb.Data()

	off := find(block, index, name)
	switch {
	case flags&XattrCreate != 0 && off >= 0:
		return fmt.Errorf("xattr %s: %w", FullName(index, name), fs_errors.ErrAlreadyExists)
	case flags&XattrReplace != 0 && off < 0:
		return fmt.Errorf("xattr %s: %w", FullName(index, name), fs_errors.ErrNoAttribute)
	}

	if len(value) == 0 {
		if off < 0 {
			return fmt.Errorf("xattr %s: %w", FullName(index, name), fs_errors.ErrNoAttribute)
		}
		disk.InvalidateXattrEntry(block[off : off+disk.XattrEntrySize])
		xb.MarkDirty()
		if ino.XattrCount > 0 {
			ino.XattrCount--
		}
		ino.TouchCtime()
		return nil
	}

	if off < 0 {
		for i := 0; i < disk.MaxXattrEntries; i++ {
			candidate := disk.XattrEntryOffset(i)
			if !disk.XattrEntryValid(block[candidate : candidate+disk.XattrEntrySize]) {
				off = candidate
				break
			}
		}
		if off < 0 {
			return fmt.Errorf("xattr %s on inode %d: %w", FullName(index, name), ino.Nid, fs_errors.ErrNoSpace)
		}
		ino.XattrCount++
	}

	disk.EncodeXattrEntry(&disk.XattrEntry{Valid: true, Type: index, Name: name, Value: value}, block[off:off+disk.XattrEntrySize])
	xb.MarkDirty()
	ino.TouchCtime()
	return nil
}

// Remove deletes (index, name).
func (x *Store) Remove(ino *inode_store.Inode, index uint8, name string) error {
	return x.Set(ino, index, name, nil, 0)
}

// List returns the full names of every valid slot.
func (x *Store) List(ino *inode_store.Inode) ([]string, error) {
	xb, err := x.block(ino)
	if err != nil {
		return nil, err
	}
	defer x.inodes.Cache().Put(xb)
	xb.Lock()
	defer xb.Unlock()

	var out []string
	for i := 0; i < disk.MaxXattrEntries; i++ {
		off := disk.XattrEntryOffset(i)
		e := disk.DecodeXattrEntry(xb.Data()[off : off+disk.XattrEntrySize])
		if e.Valid {
			out = append(out, FullName(e.Type, e.Name))
		}
	}
	return out, nil
}
