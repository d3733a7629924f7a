package buffer_cache

import (
	"fmt"
	"sync"

	"github.com/AnishMulay/numbfs/internal/block_device"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"
)

const DefaultCapacity = 1024

// Buffer is one cached block. Lock it before touching Data.
type Buffer struct {
	mu    sync.Mutex
	addr  uint32
	data  []byte
	dirty bool
	refs  int // guarded by Cache.mu
}

func (b *Buffer) Lock()   { b.mu.Lock() }
func (b *Buffer) Unlock() { b.mu.Unlock() }

func (b *Buffer) Addr() uint32 { return b.addr }

// Data returns the live block contents. The caller holds the buffer lock.
func (b *Buffer) Data() []byte { return b.data }

// MarkDirty schedules the block for write-back. The caller holds the buffer lock.
func (b *Buffer) MarkDirty() { b.dirty = true }

// Cache is a write-back block cache with one lock per block.
type Cache struct {
	dev      block_device.BlockDevice
	ls       log_service.LogService
	capacity int

	mu      sync.Mutex
	buffers map[uint32]*Buffer
}

func NewCache(dev block_device.BlockDevice, ls log_service.LogService, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		dev:      dev,
		ls:       ls,
		capacity: capacity,
		buffers:  make(map[uint32]*Buffer),
	}
}

func (c *Cache) Device() block_device.BlockDevice {
	return c.dev
}

// Get returns the shared buffer for addr, reading it from the device on first use.
// Every Get must be paired with a Put.
func (c *Cache) Get(addr uint32) (*Buffer, error) {
	c.mu.Lock()
	if b, ok := c.buffers[addr]; ok {
		b.refs++
		c.mu.Unlock()
		return b, nil
	}
	c.evictLocked()
	b := &Buffer{addr: addr, data: make([]byte, disk.BlockSize), refs: 1}
	// Hold the block lock across the read so concurrent getters wait for the data.
	b.mu.Lock()
	c.buffers[addr] = b
	c.mu.Unlock()

	err := c.dev.ReadBlock(addr, b.data)
	b.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		b.refs--
		if c.buffers[addr] == b {
			delete(c.buffers, addr)
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("read block %d: %w", addr, err)
	}
	return b, nil
}

// GetZeroed returns the buffer for addr without reading the device and clears it.
// Used for freshly allocated blocks whose old contents are garbage.
func (c *Cache) GetZeroed(addr uint32) (*Buffer, error) {
	if addr >= c.dev.Blocks() {
		return nil, fmt.Errorf("zero block %d of %d: %w", addr, c.dev.Blocks(), fs_errors.ErrOutOfRange)
	}
	c.mu.Lock()
	b, ok := c.buffers[addr]
	if ok {
		b.refs++
	} else {
		c.evictLocked()
		b = &Buffer{addr: addr, data: make([]byte, disk.BlockSize), refs: 1}
		c.buffers[addr] = b
	}
	c.mu.Unlock()

	b.Lock()
	clear(b.data)
	b.MarkDirty()
	b.Unlock()
	return b, nil
}

func (c *Cache) Put(b *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.refs <= 0 {
		c.ls.Warn(log_service.LogEvent{
			Message:  "Buffer released more times than acquired",
			Metadata: map[string]any{"block": b.addr},
		})
		return
	}
	b.refs--
}

// evictLocked drops clean, unreferenced buffers once the cache is over capacity.
func (c *Cache) evictLocked() {
	if len(c.buffers) < c.capacity {
		return
	}
	for addr, b := range c.buffers {
		if len(c.buffers) < c.capacity {
			return
		}
		if b.refs > 0 || !b.mu.TryLock() {
			continue
		}
		if !b.dirty {
			delete(c.buffers, addr)
		}
		b.mu.Unlock()
	}
}

// Sync writes every dirty buffer back and flushes the device.
func (c *Cache) Sync() error {
	c.mu.Lock()
	snapshot := make([]*Buffer, 0, len(c.buffers))
	for _, b := range c.buffers {
		snapshot = append(snapshot, b)
	}
	c.mu.Unlock()

	var written int
	for _, b := range snapshot {
		b.Lock()
		if b.dirty {
			if err := c.dev.WriteBlock(b.addr, b.data); err != nil {
				b.Unlock()
				c.ls.Error(log_service.LogEvent{
					Message:  "Failed to write back block",
					Metadata: map[string]any{"block": b.addr, "error": err.Error()},
				})
				return fmt.Errorf("write block %d: %w", b.addr, err)
			}
			b.dirty = false
			written++
		}
		b.Unlock()
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "Buffer cache synced",
		Metadata: map[string]any{"written": written, "cached": len(snapshot)},
	})
	return c.dev.Flush()
}

// Invalidate drops every clean, unreferenced buffer. Used at unmount after Sync.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, b := range c.buffers {
		if b.refs == 0 && !b.dirty {
			delete(c.buffers, addr)
		}
	}
}
