package directory_store

import (
	"errors"
	"fmt"
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

func newTestDir(t *testing.T) (*Store, *inode_store.Store, *inode_store.Inode) {
	t.Helper()
	sb, err := superblock.NewLayout(superblock.Geometry{Inodes: 32, DataBlocks: 64})
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	cache := buffer_cache.NewCache(memory.NewMemoryBlockDevice(sb.DeviceBlocks()), console.Discard(), 0)
	alloc := bitmap_allocator.NewAllocator(sb, cache, console.Discard())
	inodes := inode_store.NewStore(sb, alloc, cache, console.Discard())

	dir, err := inodes.AllocateNew(nil, disk.S_IFDIR|0o755, 0, 0)
	if err != nil {
		t.Fatalf("AllocateNew() error = %v", err)
	}
	ds := NewStore(inodes, console.Discard())
	if err := ds.MakeEmpty(dir, dir.Nid); err != nil {
		t.Fatalf("MakeEmpty() error = %v", err)
	}
	return ds, inodes, dir
}

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("entry-%02d", i)
	}
	return out
}

func TestIsEmpty(t *testing.T) {
	ds, _, dir := newTestDir(t)

	empty, err := ds.IsEmpty(dir)
	if err != nil || !empty {
		t.Fatalf("IsEmpty() on new dir = %v, %v", empty, err)
	}
	if dir.Size != 2*disk.DirentSize {
		t.Errorf("Size = %d, want two records", dir.Size)
	}

	if err := ds.Append(dir, "f", 9, disk.DT_REG); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if empty, _ := ds.IsEmpty(dir); empty {
		t.Errorf("IsEmpty() = true with three entries")
	}

	_, off, err := ds.Lookup(dir, "f")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if err := ds.Remove(dir, off); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if empty, _ := ds.IsEmpty(dir); !empty {
		t.Errorf("IsEmpty() = false after removing the only entry")
	}
}

func TestRemove_KeepsOthersReachable(t *testing.T) {
	all := names(20) // spans three blocks with "." and ".."

	tests := []struct {
		name   string
		victim string
	}{
		{"first appended", all[0]},
		{"middle of second block", all[9]},
		{"last record", all[19]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, _, dir := newTestDir(t)
			for i, n := range all {
				if err := ds.Append(dir, n, uint32(100+i), disk.DT_REG); err != nil {
					t.Fatalf("Append(%s) error = %v", n, err)
				}
			}
			before := dir.Size

			_, off, err := ds.Lookup(dir, tt.victim)
			if err != nil {
				t.Fatalf("Lookup(%s) error = %v", tt.victim, err)
			}
			if err := ds.Remove(dir, off); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}

			if dir.Size != before-disk.DirentSize {
				t.Errorf("Size = %d, want %d", dir.Size, before-disk.DirentSize)
			}
			if _, _, err := ds.Lookup(dir, tt.victim); !errors.Is(err, fs_errors.ErrNotFound) {
				t.Errorf("Lookup(removed) error = %v, want ErrNotFound", err)
			}
			for i, n := range all {
				if n == tt.victim {
					continue
				}
				e, _, err := ds.Lookup(dir, n)
				if err != nil {
					t.Errorf("Lookup(%s) error = %v", n, err)
					continue
				}
				if e.Nid != uint32(100+i) || e.Type != disk.DT_REG {
					t.Errorf("Lookup(%s) = %+v", n, e)
				}
			}
		})
	}
}

func TestLookup_Errors(t *testing.T) {
	ds, inodes, dir := newTestDir(t)

	long := string(make([]byte, disk.MaxNameLen+1))
	if _, _, err := ds.Lookup(dir, long); !errors.Is(err, fs_errors.ErrNameTooLong) {
		t.Errorf("Lookup(long) error = %v, want ErrNameTooLong", err)
	}

	file, _ := inodes.AllocateNew(dir, disk.S_IFREG|0o644, 0, 0)
	if _, _, err := ds.Lookup(file, "x"); !errors.Is(err, fs_errors.ErrNotDirectory) {
		t.Errorf("Lookup(file) error = %v, want ErrNotDirectory", err)
	}
}

func TestWriteAt_RewritesDotDot(t *testing.T) {
	ds, _, dir := newTestDir(t)

	e, off, err := ds.Lookup(dir, "..")
	if err != nil {
		t.Fatalf("Lookup(..) error = %v", err)
	}
	if e.Nid != dir.Nid {
		t.Fatalf("..  = %d, want %d", e.Nid, dir.Nid)
	}
	size := dir.Size

	if err := ds.WriteAt(dir, "..", 77, disk.DT_DIR, off); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	e, _, _ = ds.Lookup(dir, "..")
	if e.Nid != 77 || dir.Size != size {
		t.Errorf("after WriteAt: .. = %d, size = %d", e.Nid, dir.Size)
	}

	if err := ds.WriteAt(dir, "..", 1, disk.DT_DIR, dir.Size); !errors.Is(err, fs_errors.ErrInvalidArgument) {
		t.Errorf("WriteAt(past end) error = %v, want ErrInvalidArgument", err)
	}
}

func TestReadDir_Cookies(t *testing.T) {
	ds, _, dir := newTestDir(t)
	for i, n := range names(10) {
		ds.Append(dir, n, uint32(i+1), disk.DT_REG)
	}

	var (
		got    []string
		cookie int64
	)
	for pass := 0; ; pass++ {
		entries, next, eof, err := ds.ReadDir(dir, cookie, 5)
		if err != nil {
			t.Fatalf("ReadDir(%d) error = %v", cookie, err)
		}
		for _, e := range entries {
			got = append(got, e.Name)
		}
		if eof {
			break
		}
		if pass > 5 {
			t.Fatalf("ReadDir never reached the end")
		}
		cookie = next
	}

	if len(got) != 12 || got[0] != "." || got[1] != ".." {
		t.Errorf("ReadDir() names = %v", got)
	}
}

func TestReadDir_CorruptRecord(t *testing.T) {
	ds, _, dir := newTestDir(t)
	ds.Append(dir, "x", 3, disk.DT_REG)

	// Zero the name length of the third record.
	err := ds.withBlock(dir, 2*disk.DirentSize, false, func(block []byte, at int) {
		block[at+4] = 0
	})
	if err != nil {
		t.Fatalf("withBlock() error = %v", err)
	}
	if _, _, _, err := ds.ReadDir(dir, 0, 0); !errors.Is(err, fs_errors.ErrCorruptStructure) {
		t.Errorf("ReadDir() error = %v, want ErrCorruptStructure", err)
	}
}

func TestAppend_DirectoryFull(t *testing.T) {
	ds, _, dir := newTestDir(t)
	capacity := disk.MaxFileSize / disk.DirentSize

	for i := 2; i < capacity; i++ {
		if err := ds.Append(dir, fmt.Sprintf("f%d", i), uint32(i), disk.DT_REG); err != nil {
			t.Fatalf("Append #%d error = %v", i, err)
		}
	}
	if err := ds.Append(dir, "overflow", 1, disk.DT_REG); !errors.Is(err, fs_errors.ErrPositionOutOfRange) {
		t.Errorf("Append(full) error = %v, want ErrPositionOutOfRange", err)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		errorIs error
	}{
		{"ok.txt", nil},
		{"", fs_errors.ErrInvalidArgument},
		{".", fs_errors.ErrInvalidArgument},
		{"..", fs_errors.ErrInvalidArgument},
		{"a/b", fs_errors.ErrInvalidArgument},
		{string(make([]byte, disk.MaxNameLen)) + "x", fs_errors.ErrInvalidArgument},
		{fmt.Sprintf("%0*d", disk.MaxNameLen+1, 0), fs_errors.ErrNameTooLong},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.errorIs == nil && err != nil || tt.errorIs != nil && !errors.Is(err, tt.errorIs) {
			t.Errorf("ValidateName(%q) error = %v, want %v", tt.name, err, tt.errorIs)
		}
	}
}
