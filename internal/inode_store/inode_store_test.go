package inode_store

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/AnishMulay/numbfs/internal/bitmap_allocator"
	"github.com/AnishMulay/numbfs/internal/block_device/memory"
	"github.com/AnishMulay/numbfs/internal/buffer_cache"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service/console"
	"github.com/AnishMulay/numbfs/internal/superblock"
)

type testEnv struct {
	dev   *memory.MemoryBlockDevice
	sb    *superblock.Superblock
	cache *buffer_cache.Cache
	alloc *bitmap_allocator.Allocator
	store *Store
}

func newTestEnv(t *testing.T, g superblock.Geometry) *testEnv {
	t.Helper()
	sb, err := superblock.NewLayout(g)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	dev := memory.NewMemoryBlockDevice(sb.DeviceBlocks())
	cache := buffer_cache.NewCache(dev, console.Discard(), 0)
	alloc := bitmap_allocator.NewAllocator(sb, cache, console.Discard())
	return &testEnv{
		dev:   dev,
		sb:    sb,
		cache: cache,
		alloc: alloc,
		store: NewStore(sb, alloc, cache, console.Discard()),
	}
}

func (e *testEnv) freeBlocks() uint32 {
	return e.sb.Stats().FreeBlocks
}

func TestAllocateNew(t *testing.T) {
	tests := []struct {
		name      string
		mode      uint32
		wantNlink uint32
		wantKind  Kind
		errorIs   error
	}{
		{"regular", disk.S_IFREG | 0o644, 1, KindFile, nil},
		{"symlink", disk.S_IFLNK | 0o777, 1, KindSymlink, nil},
		{"directory", disk.S_IFDIR | 0o755, 2, KindDir, nil},
		{"fifo", 0o010000 | 0o644, 0, 0, fs_errors.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, superblock.Geometry{Inodes: 16, DataBlocks: 32})
			before := env.freeBlocks()

			ino, err := env.store.AllocateNew(nil, tt.mode, 1000, 1000)
			if tt.errorIs != nil {
				if !errors.Is(err, tt.errorIs) {
					t.Fatalf("AllocateNew() error = %v, want %v", err, tt.errorIs)
				}
				if env.freeBlocks() != before {
					t.Errorf("failed AllocateNew() leaked blocks")
				}
				return
			}
			if err != nil {
				t.Fatalf("AllocateNew() error = %v", err)
			}
			if ino.Nlink != tt.wantNlink || ino.Kind() != tt.wantKind {
				t.Errorf("Nlink = %d, Kind = %v", ino.Nlink, ino.Kind())
			}
			for i, s := range ino.Slots {
				if !s.IsHole() {
					t.Errorf("slot %d mapped on a new inode", i)
				}
			}
			if env.freeBlocks() != before-1 {
				t.Errorf("free blocks = %d, want %d (one xattr block)", env.freeBlocks(), before-1)
			}
			if set, _ := env.alloc.IsAllocated(superblock.BlockPool, ino.XattrBlock); !set {
				t.Errorf("xattr block %d not marked in bitmap", ino.XattrBlock)
			}
			if !ino.Dirty() {
				t.Errorf("new inode not dirty")
			}
		})
	}
}

func TestAllocateNew_SetgidParent(t *testing.T) {
	env := newTestEnv(t, superblock.Geometry{Inodes: 8, DataBlocks: 8})
	parent := &Inode{Mode: disk.S_IFDIR | disk.S_ISGID | 0o775, GID: 50}

	dir, err := env.store.AllocateNew(parent, disk.S_IFDIR|0o755, 1000, 1000)
	if err != nil {
		t.Fatalf("AllocateNew() error = %v", err)
	}
	if dir.GID != 50 || dir.Mode&disk.S_ISGID == 0 {
		t.Errorf("GID = %d, mode = %#o, want inherited group and setgid", dir.GID, dir.Mode)
	}
}

func TestTranslate_OutOfRange(t *testing.T) {
	env := newTestEnv(t, superblock.Geometry{Inodes: 8, DataBlocks: 64})
	ino, err := env.store.AllocateNew(nil, disk.S_IFREG|0o644, 0, 0)
	if err != nil {
		t.Fatalf("AllocateNew() error = %v", err)
	}

	for _, pos := range []int64{disk.MaxFileSize, disk.MaxFileSize + 1, 1 << 40, -1} {
		for _, allocate := range []bool{false, true} {
			if _, err := env.store.Translate(ino, pos, allocate); !errors.Is(err, fs_errors.ErrPositionOutOfRange) {
				t.Errorf("Translate(%d, %v) error = %v, want ErrPositionOutOfRange", pos, allocate, err)
			}
		}
	}

	slot, err := env.store.Translate(ino, disk.MaxFileSize-1, false)
	if err != nil || !slot.IsHole() {
		t.Errorf("Translate(last byte) = %v, %v, want hole", slot, err)
	}
}

func TestTranslate_BlockZeroIsNotAHole(t *testing.T) {
	// Take data block 0 for the first data slot, not the xattr block.
	env := newTestEnv(t, superblock.Geometry{Inodes: 8, DataBlocks: 8})
	ino := &Inode{store: env.store, Nid: 0, Mode: disk.S_IFREG | 0o644}

	slot, err := env.store.Translate(ino, 0, true)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	addr, ok := slot.Addr()
	if !ok || addr != 0 {
		t.Fatalf("Translate() = (%d, %v), want data block 0", addr, ok)
	}
	again, _ := env.store.Translate(ino, 10, true)
	if again != slot {
		t.Errorf("second Translate() allocated again: %v", again)
	}
}

func TestWriteTruncateFreesBlocks(t *testing.T) {
	env := newTestEnv(t, superblock.Geometry{Inodes: 8, DataBlocks: 32})
	ino, _ := env.store.AllocateNew(nil, disk.S_IFREG|0o644, 0, 0)
	baseline := env.freeBlocks()

	data := bytes.Repeat([]byte("x"), 3*disk.BlockSize)
	n, err := env.store.WriteAt(ino, data, 0)
	if err != nil || n != len(data) {
		t.Fatalf("WriteAt() = %d, %v", n, err)
	}
	if env.freeBlocks() != baseline-3 || ino.MappedBlocks() != 3 {
		t.Fatalf("after write: free = %d, mapped = %d", env.freeBlocks(), ino.MappedBlocks())
	}

	if err := env.store.Truncate(ino, disk.BlockSize+1); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if ino.MappedBlocks() != 2 || ino.Size != disk.BlockSize+1 {
		t.Errorf("after partial truncate: mapped = %d, size = %d", ino.MappedBlocks(), ino.Size)
	}

	if err := env.store.Truncate(ino, 0); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if env.freeBlocks() != baseline {
		t.Errorf("free blocks = %d, want baseline %d", env.freeBlocks(), baseline)
	}
}

func TestReadWrite(t *testing.T) {
	env := newTestEnv(t, superblock.Geometry{Inodes: 8, DataBlocks: 32})
	ino, _ := env.store.AllocateNew(nil, disk.S_IFREG|0o644, 0, 0)

	if _, err := env.store.WriteAt(ino, []byte("tail"), 2*disk.BlockSize+10); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	if ino.MappedBlocks() != 1 {
		t.Errorf("sparse write mapped %d blocks, want 1", ino.MappedBlocks())
	}

	got := make([]byte, ino.Size)
	n, err := env.store.ReadAt(ino, got, 0)
	if err != nil || int64(n) != ino.Size {
		t.Fatalf("ReadAt() = %d, %v", n, err)
	}
	want := make([]byte, ino.Size)
	copy(want[2*disk.BlockSize+10:], "tail")
	if !bytes.Equal(got, want) {
		t.Errorf("ReadAt() did not return zeros for holes")
	}

	if _, err := env.store.ReadAt(ino, make([]byte, 8), ino.Size); err != io.EOF {
		t.Errorf("ReadAt(EOF) error = %v, want io.EOF", err)
	}

	n, err = env.store.WriteAt(ino, bytes.Repeat([]byte("y"), 20), disk.MaxFileSize-8)
	if n != 8 || !errors.Is(err, fs_errors.ErrPositionOutOfRange) {
		t.Errorf("WriteAt(across capacity) = %d, %v", n, err)
	}
}

func TestPersistLoad(t *testing.T) {
	env := newTestEnv(t, superblock.Geometry{Inodes: 16, DataBlocks: 32})
	// Burn a few nids so the inode shares a table block with neighbours.
	for i := 0; i < 9; i++ {
		env.alloc.Allocate(superblock.InodePool)
	}
	ino, err := env.store.AllocateNew(nil, disk.S_IFREG|0o600, 7, 8)
	if err != nil {
		t.Fatalf("AllocateNew() error = %v", err)
	}
	ino.Lock()
	env.store.WriteAt(ino, []byte("persist me"), disk.BlockSize)
	ino.Unlock()

	if err := env.store.Put(ino); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := env.cache.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	cold := NewStore(env.sb, env.alloc, buffer_cache.NewCache(env.dev, console.Discard(), 0), console.Discard())
	got, err := cold.Load(ino.Nid)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Mode != ino.Mode || got.UID != 7 || got.GID != 8 || got.Size != ino.Size || got.Slots != ino.Slots {
		t.Errorf("Load() = %+v, want %+v", got, ino)
	}
	if got.XattrBlock != ino.XattrBlock || !got.Mtime.Equal(ino.Mtime) {
		t.Errorf("xattr block or mtime lost: %d %v", got.XattrBlock, got.Mtime)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	env := newTestEnv(t, superblock.Geometry{Inodes: 16, DataBlocks: 32})

	writeRaw := func(nid uint32, raw disk.Inode) {
		buf, _ := env.cache.Get(env.sb.InodeBlock(nid))
		off := env.sb.InodeOffset(nid)
		buf.Lock()
		disk.EncodeInode(&raw, buf.Data()[off:off+disk.InodeSize])
		buf.Unlock()
		env.cache.Put(buf)
	}
	holes := [disk.NumDataSlots]uint32{}
	for i := range holes {
		holes[i] = disk.HoleAddr
	}

	writeRaw(1, disk.Inode{Nid: 1, Mode: 0o060644, Data: holes})
	writeRaw(2, disk.Inode{Nid: 2, Mode: disk.S_IFREG | 0o644, XattrStart: 999, Data: holes})
	bad := holes
	bad[3] = 500
	writeRaw(3, disk.Inode{Nid: 3, Mode: disk.S_IFREG | 0o644, Data: bad})

	tests := []struct {
		name    string
		nid     uint32
		errorIs error
	}{
		{"block device mode", 1, fs_errors.ErrUnsupported},
		{"xattr block beyond data region", 2, fs_errors.ErrCorruptStructure},
		{"slot beyond data region", 3, fs_errors.ErrCorruptStructure},
		{"never written record", 4, fs_errors.ErrUnsupported},
		{"nid beyond table", 16, fs_errors.ErrCorruptStructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.store.Load(tt.nid); !errors.Is(err, tt.errorIs) {
				t.Errorf("Load(%d) error = %v, want %v", tt.nid, err, tt.errorIs)
			}
		})
	}
}

func TestPut_ReclaimsUnlinked(t *testing.T) {
	env := newTestEnv(t, superblock.Geometry{Inodes: 8, DataBlocks: 32})
	baseInodes, baseBlocks := env.sb.Stats().FreeInodes, env.freeBlocks()

	ino, _ := env.store.AllocateNew(nil, disk.S_IFREG|0o644, 0, 0)
	ino.Lock()
	env.store.WriteAt(ino, bytes.Repeat([]byte("z"), 2*disk.BlockSize), 0)
	ino.Unlock()

	second, err := env.store.Get(ino.Nid)
	if err != nil || second != ino {
		t.Fatalf("Get() = %p, %v, want shared handle %p", second, err, ino)
	}

	ino.Lock()
	ino.Nlink = 0
	ino.Unlock()

	env.store.Put(second)
	if env.sb.Stats().FreeInodes == baseInodes {
		t.Fatalf("inode reclaimed while still referenced")
	}
	if err := env.store.Put(ino); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	st := env.sb.Stats()
	if st.FreeInodes != baseInodes || st.FreeBlocks != baseBlocks {
		t.Errorf("after reclaim: free inodes %d/%d, free blocks %d/%d", st.FreeInodes, baseInodes, st.FreeBlocks, baseBlocks)
	}
}

func TestAllocateNew_RollsBackOnFullBlockPool(t *testing.T) {
	e := newTestEnv(t, superblock.Geometry{Inodes: 8, DataBlocks: 2})
	for i := 0; i < 2; i++ {
		if _, err := e.alloc.Allocate(superblock.BlockPool); err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
	}

	_, err := e.store.AllocateNew(nil, disk.S_IFREG|0o644, 0, 0)
	if !errors.Is(err, fs_errors.ErrOutOfSpace) {
		t.Fatalf("AllocateNew() error = %v, want ErrOutOfSpace", err)
	}
	if free := e.sb.Stats().FreeInodes; free != 8 {
		t.Errorf("free inodes = %d, want 8 after rollback", free)
	}
}

func TestZeroTail(t *testing.T) {
	e := newTestEnv(t, superblock.Geometry{Inodes: 8, DataBlocks: 16})
	ino, err := e.store.AllocateNew(nil, disk.S_IFREG|0o644, 0, 0)
	if err != nil {
		t.Fatalf("AllocateNew() error = %v", err)
	}
	ino.Lock()
	defer ino.Unlock()

	if _, err := e.store.WriteAt(ino, bytes.Repeat([]byte{0xFF}, 300), 0); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	ino.Size = 3 * disk.BlockSize
	before := e.freeBlocks()

	if err := e.store.ZeroTail(ino, 100); err != nil {
		t.Fatalf("ZeroTail() error = %v", err)
	}
	buf := make([]byte, 300)
	if _, err := e.store.ReadAt(ino, buf, 0); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(buf[:100], bytes.Repeat([]byte{0xFF}, 100)) || !bytes.Equal(buf[100:], make([]byte, 200)) {
		t.Errorf("bytes after ZeroTail = %x...", buf[96:104])
	}

	// A hole at the cut is left unmapped.
	if err := e.store.ZeroTail(ino, disk.BlockSize+10); err != nil {
		t.Fatalf("ZeroTail(hole) error = %v", err)
	}
	if e.freeBlocks() != before || !ino.Slots[1].IsHole() {
		t.Errorf("ZeroTail on a hole allocated a block")
	}
}
