// Package filesystem is a mounted numbfs session: it owns the superblock,
// allocator, caches and the stores built on them, and implements the path
// operations that compose those stores.
//
// Multi-step operations are not journaled. A failure or crash part way
// through leaves earlier steps in place.
package filesystem

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnishMulay/numbfs/internal/bitmap_allocator"
	"github.com/AnishMulay/numbfs/internal/block_device"
	"github.com/AnishMulay/numbfs/internal/buffer_cache"
	"github.com/AnishMulay/numbfs/internal/directory_store"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/inode_store"
	"github.com/AnishMulay/numbfs/internal/log_service"
	"github.com/AnishMulay/numbfs/internal/superblock"
	"github.com/AnishMulay/numbfs/internal/xattr_store"
)

// MaxLinks is bounded by the 16-bit link count of the inode record.
const MaxLinks = 0xFFFF

type Inode = inode_store.Inode

type Options struct {
	CacheBlocks int
	Logger      log_service.LogService
}

type FileSystem struct {
	session uuid.UUID
	dev     block_device.BlockDevice
	cache   *buffer_cache.Cache
	sb      *superblock.Superblock
	alloc   *bitmap_allocator.Allocator
	inodes  *inode_store.Store
	dirs    *directory_store.Store
	xattrs  *xattr_store.Store
	ls      log_service.LogService

	// renameMu serializes renames between different directories so the
	// ancestry checked before locking cannot change underneath.
	renameMu sync.Mutex
}

func newSession(dev block_device.BlockDevice, sb *superblock.Superblock, cache *buffer_cache.Cache, ls log_service.LogService) *FileSystem {
	alloc := bitmap_allocator.NewAllocator(sb, cache, ls)
	inodes := inode_store.NewStore(sb, alloc, cache, ls)
	return &FileSystem{
		session: uuid.New(),
		dev:     dev,
		cache:   cache,
		sb:      sb,
		alloc:   alloc,
		inodes:  inodes,
		dirs:    directory_store.NewStore(inodes, ls),
		xattrs:  xattr_store.NewStore(inodes, ls),
		ls:      ls,
	}
}

// Format writes an empty filesystem of geometry g onto dev: zeroed bitmaps and
// inode table, a superblock, and a root directory whose ".." is itself.
func Format(dev block_device.BlockDevice, g superblock.Geometry, ls log_service.LogService) error {
	sb, err := superblock.NewLayout(g)
	if err != nil {
		return err
	}
	if sb.DeviceBlocks() > dev.Blocks() {
		return fmt.Errorf("format: layout needs %d blocks, device has %d: %w", sb.DeviceBlocks(), dev.Blocks(), fs_errors.ErrInvalidArgument)
	}

	cache := buffer_cache.NewCache(dev, ls, int(sb.MetadataBlocks())+16)
	for addr := uint32(0); addr < sb.MetadataBlocks(); addr++ {
		buf, err := cache.GetZeroed(addr)
		if err != nil {
			return err
		}
		cache.Put(buf)
	}

	fs := newSession(dev, sb, cache, ls)
	root, err := fs.inodes.AllocateNew(nil, disk.S_IFDIR|0o755, 0, 0)
	if err != nil {
		return err
	}
	if root.Nid != disk.RootNid {
		return fmt.Errorf("format: root allocated as nid %d: %w", root.Nid, fs_errors.ErrCorruptStructure)
	}
	root.Lock()
	err = fs.dirs.MakeEmpty(root, root.Nid)
	root.Unlock()
	if err != nil {
		return err
	}
	if err := fs.inodes.Put(root); err != nil {
		return err
	}
	if err := fs.Sync(); err != nil {
		return err
	}

	ls.Info(log_service.LogEvent{
		Message: "Formatted filesystem",
		Metadata: map[string]any{
			"uuid":       sb.UUID().String(),
			"inodes":     g.Inodes,
			"dataBlocks": g.DataBlocks,
			"dataStart":  sb.DataStart(),
		},
	})
	return nil
}

// Mount loads the superblock and checks the root directory. A bad magic aborts the mount.
func Mount(dev block_device.BlockDevice, opts Options) (*FileSystem, error) {
	ls := opts.Logger
	cache := buffer_cache.NewCache(dev, ls, opts.CacheBlocks)

	sb, err := superblock.Load(cache)
	if err != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Failed to load superblock",
			Metadata: map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	fs := newSession(dev, sb, cache, ls)
	root, err := fs.inodes.Get(disk.RootNid)
	if err != nil {
		return nil, fmt.Errorf("mount: load root: %w", err)
	}
	isDir := root.IsDir()
	if err := fs.inodes.Put(root); err != nil {
		return nil, err
	}
	if !isDir {
		return nil, fmt.Errorf("mount: root inode is not a directory: %w", fs_errors.ErrCorruptStructure)
	}

	st := sb.Stats()
	ls.Info(log_service.LogEvent{
		Message: "Mounted filesystem",
		Metadata: map[string]any{
			"uuid":       sb.UUID().String(),
			"session":    fs.session.String(),
			"freeInodes": st.FreeInodes,
			"freeBlocks": st.FreeBlocks,
		},
	})
	return fs, nil
}

// Sync persists dirty inodes, the superblock and every dirty block.
func (fs *FileSystem) Sync() error {
	if err := fs.inodes.Sync(); err != nil {
		return err
	}
	if err := fs.sb.Persist(fs.cache); err != nil {
		return err
	}
	return fs.cache.Sync()
}

// Unmount syncs and drops the caches. The device stays open.
func (fs *FileSystem) Unmount() error {
	if err := fs.Sync(); err != nil {
		fs.ls.Error(log_service.LogEvent{
			Message:  "Failed to sync on unmount",
			Metadata: map[string]any{"error": err.Error()},
		})
		return err
	}
	fs.inodes.Drop()
	fs.cache.Invalidate()
	fs.ls.Info(log_service.LogEvent{
		Message:  "Unmounted filesystem",
		Metadata: map[string]any{"uuid": fs.sb.UUID().String()},
	})
	return nil
}

func (fs *FileSystem) UUID() uuid.UUID { return fs.sb.UUID() }

// ID names this mount: the volume UUID plus a per-session UUID.
func (fs *FileSystem) ID() string {
	return fs.sb.UUID().String() + "/" + fs.session.String()
}

func (fs *FileSystem) Device() block_device.BlockDevice { return fs.dev }

// Iget returns a referenced handle for nid.
func (fs *FileSystem) Iget(nid uint32) (*Inode, error) {
	return fs.inodes.Get(nid)
}

// Iput releases a handle. The caller must not hold its lock.
func (fs *FileSystem) Iput(ino *Inode) {
	if err := fs.inodes.Put(ino); err != nil {
		fs.ls.Error(log_service.LogEvent{
			Message:  "Failed to release inode",
			Metadata: map[string]any{"nid": ino.Nid, "error": err.Error()},
		})
	}
}

func (fs *FileSystem) Root() (*Inode, error) {
	return fs.Iget(disk.RootNid)
}

func (fs *FileSystem) owns(inos ...*Inode) error {
	for _, ino := range inos {
		if ino.Store() != fs.inodes {
			return fmt.Errorf("inode %d belongs to another filesystem: %w", ino.Nid, fs_errors.ErrCrossDevice)
		}
	}
	return nil
}

type Attr struct {
	Nid        uint32
	Mode       uint32
	Nlink      uint32
	UID        uint32
	GID        uint32
	Size       int64
	Blocks     int
	XattrCount uint16
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
}

func (fs *FileSystem) Stat(ino *Inode) Attr {
	ino.Lock()
	defer ino.Unlock()
	return Attr{
		Nid:        ino.Nid,
		Mode:       ino.Mode,
		Nlink:      ino.Nlink,
		UID:        ino.UID,
		GID:        ino.GID,
		Size:       ino.Size,
		Blocks:     ino.MappedBlocks(),
		XattrCount: ino.XattrCount,
		Atime:      ino.Atime,
		Mtime:      ino.Mtime,
		Ctime:      ino.Ctime,
	}
}

type StatFS struct {
	UUID        uuid.UUID
	BlockSize   int64
	Blocks      uint32
	FreeBlocks  uint32
	Inodes      uint32
	FreeInodes  uint32
	NameMax     int
	MaxFileSize int64
	CreatedAt   time.Time
}

func (fs *FileSystem) StatFS() StatFS {
	st := fs.sb.Stats()
	return StatFS{
		UUID:        fs.sb.UUID(),
		BlockSize:   disk.BlockSize,
		Blocks:      st.DataBlocks,
		FreeBlocks:  st.FreeBlocks,
		Inodes:      st.TotalInodes,
		FreeInodes:  st.FreeInodes,
		NameMax:     disk.MaxNameLen,
		MaxFileSize: disk.MaxFileSize,
		CreatedAt:   fs.sb.CreatedAt(),
	}
}

type CheckReport struct {
	InodesInBitmap  uint32
	InodesInCounter uint32
	BlocksInBitmap  uint32
	BlocksInCounter uint32
}

func (r CheckReport) Consistent() bool {
	return r.InodesInBitmap == r.InodesInCounter && r.BlocksInBitmap == r.BlocksInCounter
}

// Check compares the set bits of both bitmaps with the superblock counters.
func (fs *FileSystem) Check() (CheckReport, error) {
	inodes, err := fs.alloc.CountAllocated(superblock.InodePool)
	if err != nil {
		return CheckReport{}, err
	}
	blocks, err := fs.alloc.CountAllocated(superblock.BlockPool)
	if err != nil {
		return CheckReport{}, err
	}
	st := fs.sb.Stats()
	r := CheckReport{
		InodesInBitmap:  inodes,
		InodesInCounter: st.TotalInodes - st.FreeInodes,
		BlocksInBitmap:  blocks,
		BlocksInCounter: st.DataBlocks - st.FreeBlocks,
	}
	if !r.Consistent() {
		fs.ls.Warn(log_service.LogEvent{
			Message:  "Bitmap and superblock counters disagree",
			Metadata: map[string]any{"report": fmt.Sprintf("%+v", r)},
		})
	}
	return r, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, fs_errors.ErrNotFound)
}
