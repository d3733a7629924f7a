package bitmap_allocator

import (
	"fmt"

	"github.com/diskfs/go-diskfs/util/bitmap"

	"github.com/AnishMulay/numbfs/internal/buffer_cache"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"
	"github.com/AnishMulay/numbfs/internal/superblock"
)

// Allocator hands out inode ids and data blocks first-fit from the on-disk
// bitmaps. Every call on either pool runs under the superblock lock.
type Allocator struct {
	sb    *superblock.Superblock
	cache *buffer_cache.Cache
	ls    log_service.LogService
}

func NewAllocator(sb *superblock.Superblock, cache *buffer_cache.Cache, ls log_service.LogService) *Allocator {
	return &Allocator{sb: sb, cache: cache, ls: ls}
}

// Allocate returns the lowest clear index of pool and marks it used.
func (a *Allocator) Allocate(pool superblock.Pool) (uint32, error) {
	a.sb.Lock()
	defer a.sb.Unlock()

	free := a.sb.Free(pool)
	if free == 0 {
		return 0, fmt.Errorf("allocate %s: %w", pool, fs_errors.ErrOutOfSpace)
	}

	total := a.sb.Total(pool)
	start := a.sb.BitmapStart(pool)
	for i := uint32(0); i < a.sb.BitmapBlocks(pool); i++ {
		base := i * disk.BitsPerBlock
		idx, found, err := a.claimInBlock(start+i, total-base)
		if err != nil {
			return 0, err
		}
		if found {
			a.sb.SetFree(pool, free-1)
			return base + idx, nil
		}
	}

	a.ls.Warn(log_service.LogEvent{
		Message:  "Free counter admits allocation but bitmap is full",
		Metadata: map[string]any{"pool": pool.String(), "free": free},
	})
	return 0, fmt.Errorf("allocate %s: %w", pool, fs_errors.ErrOutOfSpace)
}

// claimInBlock sets the first clear bit below limit in one bitmap block.
func (a *Allocator) claimInBlock(addr uint32, limit uint32) (uint32, bool, error) {
	buf, err := a.cache.Get(addr)
	if err != nil {
		return 0, false, err
	}
	defer a.cache.Put(buf)

	buf.Lock()
	defer buf.Unlock()

	bm := bitmap.NewBits(disk.BitsPerBlock)
	bm.FromBytes(buf.Data())
	idx := bm.FirstFree(0)
	if idx < 0 || uint32(idx) >= limit {
		return 0, false, nil
	}
	if err := bm.Set(idx); err != nil {
		return 0, false, fmt.Errorf("set bit %d in block %d: %w", idx, addr, err)
	}
	copy(buf.Data(), bm.ToBytes())
	buf.MarkDirty()
	return uint32(idx), true, nil
}

// Free clears idx in pool. Freeing a clear bit is logged and tolerated.
func (a *Allocator) Free(pool superblock.Pool, idx uint32) error {
	a.sb.Lock()
	defer a.sb.Unlock()

	total := a.sb.Total(pool)
	if idx >= total {
		return fmt.Errorf("free %s %d of %d: %w", pool, idx, total, fs_errors.ErrOutOfRange)
	}

	addr := a.sb.BitmapStart(pool) + idx/disk.BitsPerBlock
	bit := int(idx % disk.BitsPerBlock)

	buf, err := a.cache.Get(addr)
	if err != nil {
		return err
	}
	buf.Lock()
	bm := bitmap.NewBits(disk.BitsPerBlock)
	bm.FromBytes(buf.Data())
	wasSet, err := bm.IsSet(bit)
	if err == nil {
		err = bm.Clear(bit)
	}
	if err == nil {
		copy(buf.Data(), bm.ToBytes())
		buf.MarkDirty()
	}
	buf.Unlock()
	a.cache.Put(buf)
	if err != nil {
		return fmt.Errorf("clear bit %d in block %d: %w", bit, addr, err)
	}

	if !wasSet {
		a.ls.Warn(log_service.LogEvent{
			Message:  "Freeing an index that is already free",
			Metadata: map[string]any{"pool": pool.String(), "index": idx},
		})
	}

	free := a.sb.Free(pool) + 1
	if free > total {
		free = total
	}
	a.sb.SetFree(pool, free)
	return nil
}

// CountAllocated counts the set bits of pool. Used to check the bitmap against the counters.
func (a *Allocator) CountAllocated(pool superblock.Pool) (uint32, error) {
	a.sb.Lock()
	defer a.sb.Unlock()

	total := a.sb.Total(pool)
	start := a.sb.BitmapStart(pool)
	var used uint32
	for i := uint32(0); i < a.sb.BitmapBlocks(pool); i++ {
		buf, err := a.cache.Get(start + i)
		if err != nil {
			return 0, err
		}
		buf.Lock()
		bm := bitmap.NewBits(disk.BitsPerBlock)
		bm.FromBytes(buf.Data())
		buf.Unlock()
		a.cache.Put(buf)

		limit := min(total-i*disk.BitsPerBlock, disk.BitsPerBlock)
		for bit := 0; bit < int(limit); bit++ {
			if set, _ := bm.IsSet(bit); set {
				used++
			}
		}
	}
	return used, nil
}

// IsAllocated reports whether idx is marked used in pool.
func (a *Allocator) IsAllocated(pool superblock.Pool, idx uint32) (bool, error) {
	a.sb.Lock()
	defer a.sb.Unlock()

	if idx >= a.sb.Total(pool) {
		return false, fmt.Errorf("%s %d: %w", pool, idx, fs_errors.ErrOutOfRange)
	}
	buf, err := a.cache.Get(a.sb.BitmapStart(pool) + idx/disk.BitsPerBlock)
	if err != nil {
		return false, err
	}
	defer a.cache.Put(buf)
	buf.Lock()
	defer buf.Unlock()
	bm := bitmap.NewBits(disk.BitsPerBlock)
	bm.FromBytes(buf.Data())
	return bm.IsSet(int(idx % disk.BitsPerBlock))
}
