package inode_store

import (
	"errors"
	"fmt"
	"io"

	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/superblock"
)

// Translate maps a byte position of ino to its slot. With allocate set, a
// hole is filled with a fresh zeroed block and the inode is marked dirty.
// The caller holds the inode lock.
func (s *Store) Translate(ino *Inode, pos int64, allocate bool) (Slot, error) {
	if pos < 0 {
		return Hole, fmt.Errorf("inode %d position %d: %w", ino.Nid, pos, fs_errors.ErrPositionOutOfRange)
	}
	idx := pos / disk.BlockSize
	if idx >= disk.NumDataSlots {
		return Hole, fmt.Errorf("inode %d position %d: %w", ino.Nid, pos, fs_errors.ErrPositionOutOfRange)
	}

	slot := ino.Slots[idx]
	if slot.mapped || !allocate {
		return slot, nil
	}

	blk, err := s.alloc.Allocate(superblock.BlockPool)
	if err != nil {
		return Hole, err
	}
	buf, err := s.cache.GetZeroed(s.sb.DataBlock(blk))
	if err != nil {
		return Hole, errors.Join(err, s.alloc.Free(superblock.BlockPool, blk))
	}
	s.cache.Put(buf)

	ino.Slots[idx] = Mapped(blk)
	ino.dirty = true
	return ino.Slots[idx], nil
}

// PhysicalAddr converts a mapped slot into a device block address.
func (s *Store) PhysicalAddr(slot Slot) uint32 {
	return s.sb.DataBlock(slot.addr)
}

// ZeroTail clears the bytes of the block holding size that lie at or past size,
// so a later extension reads zeros there. A hole is left alone; nothing is
// allocated. The caller holds the inode lock.
func (s *Store) ZeroTail(ino *Inode, size int64) error {
	tail := size % disk.BlockSize
	if tail == 0 || size >= ino.Size {
		return nil
	}
	slot, err := s.Translate(ino, size, false)
	if err != nil || slot.IsHole() {
		return err
	}
	buf, err := s.cache.Get(s.PhysicalAddr(slot))
	if err != nil {
		return err
	}
	buf.Lock()
	clear(buf.Data()[tail:])
	buf.MarkDirty()
	buf.Unlock()
	s.cache.Put(buf)
	return nil
}

// Truncate frees every slot at or beyond ceil(size/BlockSize) and sets the size.
// Data inside the kept blocks is left as is. The caller holds the inode lock.
func (s *Store) Truncate(ino *Inode, size int64) error {
	if size < 0 || size > disk.MaxFileSize {
		return fmt.Errorf("truncate inode %d to %d: %w", ino.Nid, size, fs_errors.ErrPositionOutOfRange)
	}

	first := disk.DivRoundUp(size, disk.BlockSize)
	for i := first; i < disk.NumDataSlots; i++ {
		addr, ok := ino.Slots[i].Addr()
		if !ok {
			continue
		}
		if err := s.alloc.Free(superblock.BlockPool, addr); err != nil {
			return err
		}
		ino.Slots[i] = Hole
	}
	ino.Size = size
	ino.Touch()
	return nil
}

// ReadAt reads from ino's byte stream. Holes read as zeros. The caller holds the inode lock.
func (s *Store) ReadAt(ino *Inode, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read inode %d at %d: %w", ino.Nid, off, fs_errors.ErrInvalidArgument)
	}
	if off >= ino.Size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), ino.Size-off)

	var n int64
	for n < want {
		pos := off + n
		inBlock := pos % disk.BlockSize
		chunk := min(want-n, disk.BlockSize-inBlock)

		slot, err := s.Translate(ino, pos, false)
		if err != nil {
			return int(n), err
		}
		dst := p[n : n+chunk]
		if slot.IsHole() {
			clear(dst)
		} else {
			buf, err := s.cache.Get(s.PhysicalAddr(slot))
			if err != nil {
				return int(n), err
			}
			buf.Lock()
			copy(dst, buf.Data()[inBlock:inBlock+chunk])
			buf.Unlock()
			s.cache.Put(buf)
		}
		n += chunk
	}

	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// WriteAt writes into ino's byte stream, allocating blocks for holes and
// growing the size. A write crossing the direct-block capacity stops there
// with ErrPositionOutOfRange. The caller holds the inode lock.
func (s *Store) WriteAt(ino *Inode, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("write inode %d at %d: %w", ino.Nid, off, fs_errors.ErrInvalidArgument)
	}

	var (
		n   int64
		err error
	)
	for n < int64(len(p)) {
		pos := off + n
		inBlock := pos % disk.BlockSize
		chunk := min(int64(len(p))-n, disk.BlockSize-inBlock)

		var slot Slot
		slot, err = s.Translate(ino, pos, true)
		if err != nil {
			break
		}
		buf, gerr := s.cache.Get(s.PhysicalAddr(slot))
		if gerr != nil {
			err = gerr
			break
		}
		buf.Lock()
		copy(buf.Data()[inBlock:inBlock+chunk], p[n:n+chunk])
		buf.MarkDirty()
		buf.Unlock()
		s.cache.Put(buf)
		n += chunk
	}

	if n > 0 {
		if end := off + n; end > ino.Size {
			ino.Size = end
		}
		ino.Touch()
	}
	return int(n), err
}
