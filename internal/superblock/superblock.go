package superblock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnishMulay/numbfs/internal/buffer_cache"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
)

// Pool selects one of the two bitmap-managed allocation pools.
type Pool int

const (
	InodePool Pool = iota
	BlockPool
)

func (p Pool) String() string {
	if p == InodePool {
		return "inode"
	}
	return "block"
}

// MaxInodes is bounded by the 16-bit nid field of the inode record.
const MaxInodes = 1 << 16

type Geometry struct {
	Inodes     uint32
	DataBlocks uint32
}

func (g Geometry) Validate() error {
	if g.Inodes == 0 || g.Inodes > MaxInodes {
		return fmt.Errorf("inode count %d outside [1, %d]: %w", g.Inodes, MaxInodes, fs_errors.ErrInvalidArgument)
	}
	if g.DataBlocks == 0 {
		return fmt.Errorf("data block count must be positive: %w", fs_errors.ErrInvalidArgument)
	}
	return nil
}

type Stats struct {
	TotalInodes uint32
	FreeInodes  uint32
	DataBlocks  uint32
	FreeBlocks  uint32
}

// Superblock is the mounted copy of block 0. Region fields are immutable after
// mount; the free counters are guarded by the superblock mutex, which is also
// the allocator lock for both pools.
type Superblock struct {
	layout disk.SuperBlock

	mu         sync.Mutex
	freeInodes uint32
	freeBlocks uint32
	dirty      bool
}

// NewLayout computes the region layout for a fresh volume with every unit free.
func NewLayout(g Geometry) (*Superblock, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	ibitmapStart := uint32(disk.SuperBlockAddr + 1)
	inodeStart := ibitmapStart + disk.DivRoundUp(g.Inodes, disk.BitsPerBlock)
	bbitmapStart := inodeStart + disk.DivRoundUp(g.Inodes, disk.InodesPerBlock)
	dataStart := bbitmapStart + disk.DivRoundUp(g.DataBlocks, disk.BitsPerBlock)
	if uint64(dataStart)+uint64(g.DataBlocks) > 1<<32-1 {
		return nil, fmt.Errorf("geometry exceeds 32-bit block addresses: %w", fs_errors.ErrInvalidArgument)
	}

	sb := &Superblock{
		layout: disk.SuperBlock{
			Magic:        disk.Magic,
			TotalInodes:  g.Inodes,
			FreeInodes:   g.Inodes,
			DataBlocks:   g.DataBlocks,
			FreeBlocks:   g.DataBlocks,
			IBitmapStart: ibitmapStart,
			InodeStart:   inodeStart,
			BBitmapStart: bbitmapStart,
			DataStart:    dataStart,
			UUID:         uuid.New(),
			CreatedAt:    time.Now().Unix(),
		},
		freeInodes: g.Inodes,
		freeBlocks: g.DataBlocks,
		dirty:      true,
	}
	return sb, nil
}

// Load reads and validates block 0. A bad magic aborts the mount.
func Load(cache *buffer_cache.Cache) (*Superblock, error) {
	buf, err := cache.Get(disk.SuperBlockAddr)
	if err != nil {
		return nil, err
	}
	buf.Lock()
	raw, err := disk.DecodeSuperBlock(buf.Data())
	buf.Unlock()
	cache.Put(buf)
	if err != nil {
		return nil, err
	}

	sb := &Superblock{layout: *raw, freeInodes: raw.FreeInodes, freeBlocks: raw.FreeBlocks}
	if need, have := sb.DeviceBlocks(), cache.Device().Blocks(); need > have {
		return nil, fmt.Errorf("superblock: layout needs %d blocks, device has %d: %w", need, have, fs_errors.ErrCorruptStructure)
	}
	if raw.TotalInodes > MaxInodes {
		return nil, fmt.Errorf("superblock: %d inodes: %w", raw.TotalInodes, fs_errors.ErrCorruptStructure)
	}
	return sb, nil
}

// Persist encodes the superblock into block 0 and marks it dirty.
func (sb *Superblock) Persist(cache *buffer_cache.Cache) error {
	buf, err := cache.Get(disk.SuperBlockAddr)
	if err != nil {
		return err
	}
	defer cache.Put(buf)

	sb.mu.Lock()
	raw := sb.layout
	raw.FreeInodes = sb.freeInodes
	raw.FreeBlocks = sb.freeBlocks
	sb.dirty = false
	sb.mu.Unlock()

	buf.Lock()
	disk.EncodeSuperBlock(&raw, buf.Data())
	buf.MarkDirty()
	buf.Unlock()
	return nil
}

func (sb *Superblock) Lock()   { sb.mu.Lock() }
func (sb *Superblock) Unlock() { sb.mu.Unlock() }

// Free returns a pool's free counter. The caller holds the superblock lock.
func (sb *Superblock) Free(p Pool) uint32 {
	if p == InodePool {
		return sb.freeInodes
	}
	return sb.freeBlocks
}

// SetFree updates a pool's free counter. The caller holds the superblock lock.
func (sb *Superblock) SetFree(p Pool, n uint32) {
	if p == InodePool {
		sb.freeInodes = n
	} else {
		sb.freeBlocks = n
	}
	sb.dirty = true
}

func (sb *Superblock) Dirty() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.dirty
}

func (sb *Superblock) Stats() Stats {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return Stats{
		TotalInodes: sb.layout.TotalInodes,
		FreeInodes:  sb.freeInodes,
		DataBlocks:  sb.layout.DataBlocks,
		FreeBlocks:  sb.freeBlocks,
	}
}

func (sb *Superblock) Total(p Pool) uint32 {
	if p == InodePool {
		return sb.layout.TotalInodes
	}
	return sb.layout.DataBlocks
}

func (sb *Superblock) BitmapStart(p Pool) uint32 {
	if p == InodePool {
		return sb.layout.IBitmapStart
	}
	return sb.layout.BBitmapStart
}

func (sb *Superblock) BitmapBlocks(p Pool) uint32 {
	return disk.DivRoundUp(sb.Total(p), disk.BitsPerBlock)
}

func (sb *Superblock) InodeStart() uint32 { return sb.layout.InodeStart }
func (sb *Superblock) DataStart() uint32  { return sb.layout.DataStart }

// InodeBlock is the physical block holding nid's record.
func (sb *Superblock) InodeBlock(nid uint32) uint32 {
	return sb.layout.InodeStart + nid/disk.InodesPerBlock
}

// InodeOffset is the byte offset of nid's record inside InodeBlock(nid).
func (sb *Superblock) InodeOffset(nid uint32) int {
	return int(nid%disk.InodesPerBlock) * disk.InodeSize
}

// DataBlock converts a data-region index into a physical block address.
func (sb *Superblock) DataBlock(logical uint32) uint32 {
	return sb.layout.DataStart + logical
}

// DeviceBlocks is the number of blocks the layout spans.
func (sb *Superblock) DeviceBlocks() uint32 {
	return sb.layout.DataStart + sb.layout.DataBlocks
}

// MetadataBlocks is the number of blocks before the data region.
func (sb *Superblock) MetadataBlocks() uint32 {
	return sb.layout.DataStart
}

func (sb *Superblock) UUID() uuid.UUID {
	return uuid.UUID(sb.layout.UUID)
}

func (sb *Superblock) CreatedAt() time.Time {
	return time.Unix(sb.layout.CreatedAt, 0).UTC()
}
