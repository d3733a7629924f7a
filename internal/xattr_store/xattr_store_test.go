package xattr_store

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/AnishMulay/numbfs/internal/bitmap_allocator"
	"github.com/AnishMulay/numbfs/internal/block_device/memory"
	"github.com/AnishMulay/numbfs/internal/buffer_cache"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/inode_store"
	"github.com/AnishMulay/numbfs/internal/log_service/console"
	"github.com/AnishMulay/numbfs/internal/superblock"
)

func newTestInode(t *testing.T) (*Store, *inode_store.Inode) {
	t.Helper()
	sb, err := superblock.NewLayout(superblock.Geometry{Inodes: 8, DataBlocks: 16})
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	cache := buffer_cache.NewCache(memory.NewMemoryBlockDevice(sb.DeviceBlocks()), console.Discard(), 0)
	alloc := bitmap_allocator.NewAllocator(sb, cache, console.Discard())
	inodes := inode_store.NewStore(sb, alloc, cache, console.Discard())

	ino, err := inodes.AllocateNew(nil, disk.S_IFREG|0o644, 0, 0)
	if err != nil {
		t.Fatalf("AllocateNew() error = %v", err)
	}
	return NewStore(inodes, console.Discard()), ino
}

func TestSetGet(t *testing.T) {
	tests := []struct {
		name  string
		index uint8
		key   string
		value []byte
	}{
		{"short user", disk.XattrIndexUser, "a", []byte("1")},
		{"trusted", disk.XattrIndexTrusted, "overlay.opaque", []byte("y")},
		{"name at capacity", disk.XattrIndexUser, "abcdefghijklmnopqrst", []byte("v")},
		{"value at capacity", disk.XattrIndexUser, "big", bytes.Repeat([]byte{0xFE}, disk.MaxXattrValue)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xs, ino := newTestInode(t)

			if err := xs.Set(ino, tt.index, tt.key, tt.value, 0); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			size, err := xs.Get(ino, tt.index, tt.key, nil)
			if err != nil || size != len(tt.value) {
				t.Fatalf("Get(probe) = %d, %v, want %d", size, err, len(tt.value))
			}
			buf := make([]byte, disk.MaxXattrValue)
			n, err := xs.Get(ino, tt.index, tt.key, buf)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !bytes.Equal(buf[:n], tt.value) {
				t.Errorf("Get() = %q, want %q", buf[:n], tt.value)
			}
			if ino.XattrCount != 1 {
				t.Errorf("XattrCount = %d, want 1", ino.XattrCount)
			}
		})
	}
}

func TestSet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(*Store, *inode_store.Inode)
		key     string
		value   []byte
		flags   int
		errorIs error
	}{
		{name: "name too long", key: "abcdefghijklmnopqrstu", value: []byte("v"), errorIs: fs_errors.ErrRange},
		{name: "value too long", key: "k", value: make([]byte, disk.MaxXattrValue+1), errorIs: fs_errors.ErrRange},
		{name: "empty name", key: "", value: []byte("v"), errorIs: fs_errors.ErrRange},
		{
			name:    "create existing",
			setupFn: func(xs *Store, ino *inode_store.Inode) { xs.Set(ino, disk.XattrIndexUser, "k", []byte("1"), 0) },
			key:     "k", value: []byte("2"), flags: XattrCreate,
			errorIs: fs_errors.ErrAlreadyExists,
		},
		{name: "replace missing", key: "k", value: []byte("2"), flags: XattrReplace, errorIs: fs_errors.ErrNoAttribute},
		{name: "remove missing", key: "k", errorIs: fs_errors.ErrNoAttribute},
		{
			name: "no free slot",
			setupFn: func(xs *Store, ino *inode_store.Inode) {
				for i := 0; i < disk.MaxXattrEntries; i++ {
					xs.Set(ino, disk.XattrIndexUser, fmt.Sprintf("k%d", i), []byte("v"), 0)
				}
			},
			key: "one-more", value: []byte("v"),
			errorIs: fs_errors.ErrNoSpace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xs, ino := newTestInode(t)
			if tt.setupFn != nil {
				tt.setupFn(xs, ino)
			}
			err := xs.Set(ino, disk.XattrIndexUser, tt.key, tt.value, tt.flags)
			if !errors.Is(err, tt.errorIs) {
				t.Errorf("Set() error = %v, want %v", err, tt.errorIs)
			}
		})
	}
}

func TestSet_ReplaceAndDelete(t *testing.T) {
	xs, ino := newTestInode(t)

	xs.Set(ino, disk.XattrIndexUser, "color", []byte("red"), 0)
	xs.Set(ino, disk.XattrIndexTrusted, "color", []byte("secret"), 0)
	if err := xs.Set(ino, disk.XattrIndexUser, "color", []byte("blue"), XattrReplace); err != nil {
		t.Fatalf("Set(replace) error = %v", err)
	}
	if ino.XattrCount != 2 {
		t.Errorf("XattrCount = %d after replace, want 2", ino.XattrCount)
	}

	buf := make([]byte, 16)
	n, _ := xs.Get(ino, disk.XattrIndexUser, "color", buf)
	if string(buf[:n]) != "blue" {
		t.Errorf("Get(user.color) = %q, want blue", buf[:n])
	}

	if _, err := xs.Get(ino, disk.XattrIndexUser, "color", make([]byte, 2)); !errors.Is(err, fs_errors.ErrRange) {
		t.Errorf("Get(small buffer) error = %v, want ErrRange", err)
	}

	if err := xs.Remove(ino, disk.XattrIndexUser, "color"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := xs.Get(ino, disk.XattrIndexUser, "color", buf); !errors.Is(err, fs_errors.ErrNoAttribute) {
		t.Errorf("Get(removed) error = %v, want ErrNoAttribute", err)
	}
	if n, err := xs.Get(ino, disk.XattrIndexTrusted, "color", buf); err != nil || string(buf[:n]) != "secret" {
		t.Errorf("Get(trusted.color) = %q, %v", buf[:n], err)
	}

	names, err := xs.List(ino)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !slices.Equal(names, []string{"trusted.color"}) {
		t.Errorf("List() = %v", names)
	}

	// The freed slot is reused.
	if err := xs.Set(ino, disk.XattrIndexUser, "again", []byte("x"), XattrCreate); err != nil {
		t.Errorf("Set(after delete) error = %v", err)
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		full      string
		wantIndex uint8
		wantName  string
		errorIs   error
	}{
		{"user.mime_type", disk.XattrIndexUser, "mime_type", nil},
		{"trusted.overlay.origin", disk.XattrIndexTrusted, "overlay.origin", nil},
		{"security.selinux", 0, "", fs_errors.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.full, func(t *testing.T) {
			idx, name, err := ParseName(tt.full)
			if !errors.Is(err, tt.errorIs) {
				t.Fatalf("ParseName() error = %v, want %v", err, tt.errorIs)
			}
			if idx != tt.wantIndex || name != tt.wantName {
				t.Errorf("ParseName() = %d, %q", idx, name)
			}
			if err == nil && FullName(idx, name) != tt.full {
				t.Errorf("FullName() = %q", FullName(idx, name))
			}
		})
	}
}
