package memory

import (
	"sync"

	"github.com/AnishMulay/numbfs/internal/block_device"
	"github.com/AnishMulay/numbfs/internal/disk"
)

// MemoryBlockDevice keeps the whole image in a byte slice. Used for tests and scratch images.
type MemoryBlockDevice struct {
	mu     sync.RWMutex
	data   []byte
	blocks uint32
}

func NewMemoryBlockDevice(blocks uint32) *MemoryBlockDevice {
	return &MemoryBlockDevice{
		data:   make([]byte, int64(blocks)*disk.BlockSize),
		blocks: blocks,
	}
}

func (m *MemoryBlockDevice) ReadBlock(addr uint32, p []byte) error {
	if err := block_device.CheckAccess(addr, p, m.blocks); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	copy(p, m.data[int64(addr)*disk.BlockSize:])
	return nil
}

func (m *MemoryBlockDevice) WriteBlock(addr uint32, p []byte) error {
	if err := block_device.CheckAccess(addr, p, m.blocks); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[int64(addr)*disk.BlockSize:], p)
	return nil
}

func (m *MemoryBlockDevice) Flush() error {
	return nil
}

func (m *MemoryBlockDevice) Blocks() uint32 {
	return m.blocks
}

func (m *MemoryBlockDevice) Close() error {
	return nil
}

var _ block_device.BlockDevice = (*MemoryBlockDevice)(nil)
