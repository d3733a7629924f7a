package inode_store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AnishMulay/numbfs/internal/bitmap_allocator"
	"github.com/AnishMulay/numbfs/internal/buffer_cache"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"
	"github.com/AnishMulay/numbfs/internal/superblock"
)

// Store loads, persists and caches inodes of one mounted filesystem.
//
// Lock order: inode lock, then the store lock, then block buffer locks.
type Store struct {
	sb    *superblock.Superblock
	alloc *bitmap_allocator.Allocator
	cache *buffer_cache.Cache
	ls    log_service.LogService

	mu     sync.Mutex
	inodes map[uint32]*Inode
}

func NewStore(sb *superblock.Superblock, alloc *bitmap_allocator.Allocator, cache *buffer_cache.Cache, ls log_service.LogService) *Store {
	return &Store{
		sb:     sb,
		alloc:  alloc,
		cache:  cache,
		ls:     ls,
		inodes: make(map[uint32]*Inode),
	}
}

func (s *Store) Superblock() *superblock.Superblock      { return s.sb }
func (s *Store) Allocator() *bitmap_allocator.Allocator { return s.alloc }
func (s *Store) Cache() *buffer_cache.Cache             { return s.cache }

// Get returns the shared handle for nid, loading it on first reference.
// Release it with Put.
func (s *Store) Get(nid uint32) (*Inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ino, ok := s.inodes[nid]; ok {
		ino.refs++
		return ino, nil
	}
	ino, err := s.Load(nid)
	if err != nil {
		return nil, err
	}
	ino.refs = 1
	s.inodes[nid] = ino
	return ino, nil
}

// Put drops a reference. The last reference reclaims an unlinked inode and
// persists a dirty one. The caller must not hold the inode lock.
func (s *Store) Put(ino *Inode) error {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	s.mu.Lock()
	ino.refs--
	last := ino.refs <= 0
	if last && ino.Nlink == 0 {
		delete(s.inodes, ino.Nid)
	}
	s.mu.Unlock()

	if !last {
		return nil
	}
	if ino.Nlink == 0 {
		return s.Reclaim(ino)
	}
	if ino.dirty {
		return s.Persist(ino)
	}
	return nil
}

// Load decodes nid's record and the timestamp region of its xattr block.
// It bypasses the inode cache.
func (s *Store) Load(nid uint32) (*Inode, error) {
	if nid >= s.sb.Total(superblock.InodePool) {
		return nil, fmt.Errorf("load inode %d: nid beyond inode table: %w", nid, fs_errors.ErrCorruptStructure)
	}

	buf, err := s.cache.Get(s.sb.InodeBlock(nid))
	if err != nil {
		return nil, err
	}
	off := s.sb.InodeOffset(nid)
	buf.Lock()
	raw := disk.DecodeInode(buf.Data()[off : off+disk.InodeSize])
	buf.Unlock()
	s.cache.Put(buf)

	mode := uint32(raw.Mode)
	kind, ok := kindOf(mode)
	if !ok {
		return nil, fmt.Errorf("load inode %d: mode %#o: %w", nid, mode, fs_errors.ErrUnsupported)
	}
	if uint32(raw.Nid) != nid {
		return nil, fmt.Errorf("load inode %d: record claims nid %d: %w", nid, raw.Nid, fs_errors.ErrCorruptStructure)
	}

	dataBlocks := s.sb.Total(superblock.BlockPool)
	if raw.XattrStart >= dataBlocks {
		return nil, fmt.Errorf("load inode %d: xattr block %d: %w", nid, raw.XattrStart, fs_errors.ErrCorruptStructure)
	}

	ino := &Inode{
		store:      s,
		kind:       kind,
		Nid:        nid,
		Mode:       mode,
		Nlink:      uint32(raw.Nlink),
		UID:        raw.UID,
		GID:        raw.GID,
		Size:       int64(raw.Size),
		XattrBlock: raw.XattrStart,
		XattrCount: raw.XattrCount,
	}
	for i, addr := range raw.Data {
		switch {
		case addr == disk.HoleAddr:
			ino.Slots[i] = Hole
		case addr >= dataBlocks:
			return nil, fmt.Errorf("load inode %d: slot %d points at block %d: %w", nid, i, addr, fs_errors.ErrCorruptStructure)
		default:
			ino.Slots[i] = Mapped(addr)
		}
	}

	xb, err := s.cache.Get(s.sb.DataBlock(ino.XattrBlock))
	if err != nil {
		return nil, err
	}
	xb.Lock()
	ts := disk.DecodeTimestamps(xb.Data())
	xb.Unlock()
	s.cache.Put(xb)
	ino.Atime, ino.Mtime, ino.Ctime = ts.Atime, ts.Mtime, ts.Ctime

	return ino, nil
}

// Persist writes the inode record and its timestamps back. The caller holds the inode lock.
func (s *Store) Persist(ino *Inode) error {
	raw := disk.Inode{
		Nid:        uint16(ino.Nid),
		Nlink:      uint16(ino.Nlink),
		Mode:       uint16(ino.Mode),
		XattrCount: ino.XattrCount,
		UID:        ino.UID,
		GID:        ino.GID,
		Size:       uint32(ino.Size),
		XattrStart: ino.XattrBlock,
	}
	for i, slot := range ino.Slots {
		raw.Data[i] = slot.encode()
	}

	buf, err := s.cache.Get(s.sb.InodeBlock(ino.Nid))
	if err != nil {
		return err
	}
	off := s.sb.InodeOffset(ino.Nid)
	buf.Lock()
	disk.EncodeInode(&raw, buf.Data()[off:off+disk.InodeSize])
	buf.MarkDirty()
	buf.Unlock()
	s.cache.Put(buf)

	xb, err := s.cache.Get(s.sb.DataBlock(ino.XattrBlock))
	if err != nil {
		return err
	}
	xb.Lock()
	disk.EncodeTimestamps(&disk.Timestamps{Atime: ino.Atime, Mtime: ino.Mtime, Ctime: ino.Ctime}, xb.Data())
	xb.MarkDirty()
	xb.Unlock()
	s.cache.Put(xb)

	ino.dirty = false
	return nil
}

// AllocateNew creates a cached, dirty inode with every slot a hole and one
// zeroed xattr block. dir, when set, supplies setgid group inheritance.
// The returned handle holds one reference.
func (s *Store) AllocateNew(dir *Inode, mode, uid, gid uint32) (*Inode, error) {
	kind, ok := kindOf(mode)
	if !ok {
		return nil, fmt.Errorf("allocate inode: mode %#o: %w", mode, fs_errors.ErrUnsupported)
	}

	nid, err := s.alloc.Allocate(superblock.InodePool)
	if err != nil {
		return nil, err
	}
	xattrBlock, err := s.alloc.Allocate(superblock.BlockPool)
	if err != nil {
		return nil, errors.Join(err, s.alloc.Free(superblock.InodePool, nid))
	}
	xb, err := s.cache.GetZeroed(s.sb.DataBlock(xattrBlock))
	if err != nil {
		return nil, errors.Join(err,
			s.alloc.Free(superblock.BlockPool, xattrBlock),
			s.alloc.Free(superblock.InodePool, nid))
	}
	s.cache.Put(xb)

	if dir != nil && dir.Mode&disk.S_ISGID != 0 {
		gid = dir.GID
		if kind == KindDir {
			mode |= disk.S_ISGID
		}
	}

	now := time.Now().UTC()
	ino := &Inode{
		store:      s,
		kind:       kind,
		Nid:        nid,
		Mode:       mode,
		Nlink:      1,
		UID:        uid,
		GID:        gid,
		XattrBlock: xattrBlock,
		Atime:      now,
		Mtime:      now,
		Ctime:      now,
		dirty:      true,
		refs:       1,
	}
	if kind == KindDir {
		ino.Nlink = 2
	}

	s.mu.Lock()
	s.inodes[nid] = ino
	s.mu.Unlock()

	s.ls.Debug(log_service.LogEvent{
		Message:  "Allocated inode",
		Metadata: map[string]any{"nid": nid, "mode": fmt.Sprintf("%#o", mode), "xattrBlock": xattrBlock},
	})
	return ino, nil
}

// Reclaim releases every block of an unlinked, unreferenced inode and then its nid.
func (s *Store) Reclaim(ino *Inode) error {
	var errs []error
	for i, slot := range ino.Slots {
		if addr, ok := slot.Addr(); ok {
			errs = append(errs, s.alloc.Free(superblock.BlockPool, addr))
			ino.Slots[i] = Hole
		}
	}
	errs = append(errs, s.alloc.Free(superblock.BlockPool, ino.XattrBlock))

	buf, err := s.cache.Get(s.sb.InodeBlock(ino.Nid))
	if err == nil {
		off := s.sb.InodeOffset(ino.Nid)
		buf.Lock()
		clear(buf.Data()[off : off+disk.InodeSize])
		buf.MarkDirty()
		buf.Unlock()
		s.cache.Put(buf)
	}
	errs = append(errs, err, s.alloc.Free(superblock.InodePool, ino.Nid))
	ino.dirty = false

	if err := errors.Join(errs...); err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to reclaim inode",
			Metadata: map[string]any{"nid": ino.Nid, "error": err.Error()},
		})
		return err
	}
	s.ls.Debug(log_service.LogEvent{
		Message:  "Reclaimed inode",
		Metadata: map[string]any{"nid": ino.Nid},
	})
	return nil
}

// Sync persists every dirty cached inode. The caller must not hold inode locks.
func (s *Store) Sync() error {
	s.mu.Lock()
	snapshot := make([]*Inode, 0, len(s.inodes))
	for _, ino := range s.inodes {
		snapshot = append(snapshot, ino)
	}
	s.mu.Unlock()

	for _, ino := range snapshot {
		ino.mu.Lock()
		var err error
		if ino.dirty && ino.Nlink > 0 {
			err = s.Persist(ino)
		}
		ino.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Drop empties the inode cache after a Sync. Inodes still referenced are reported.
func (s *Store) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for nid, ino := range s.inodes {
		if ino.refs > 0 {
			s.ls.Warn(log_service.LogEvent{
				Message:  "Inode still referenced at unmount",
				Metadata: map[string]any{"nid": nid, "refs": ino.refs},
			})
		}
	}
	s.inodes = make(map[uint32]*Inode)
}
