package disk

import (
	"encoding/binary"
	"fmt"

	"github.com/AnishMulay/numbfs/internal/fs_errors"
)

const (
	sbMagicOff        = 0
	sbFeatureOff      = 4
	sbTotalInodesOff  = 8
	sbFreeInodesOff   = 12
	sbDataBlocksOff   = 16
	sbFreeBlocksOff   = 20
	sbIBitmapStartOff = 24
	sbInodeStartOff   = 28
	sbBBitmapStartOff = 32
	sbDataStartOff    = 36
	sbUUIDOff         = 40
	sbCreatedOff      = 56
	sbEnd             = 64
)

type SuperBlock struct {
	Magic        uint32
	Feature      uint32
	TotalInodes  uint32
	FreeInodes   uint32
	DataBlocks   uint32
	FreeBlocks   uint32
	IBitmapStart uint32
	InodeStart   uint32
	BBitmapStart uint32
	DataStart    uint32
	UUID         [16]byte
	CreatedAt    int64
}

func EncodeSuperBlock(sb *SuperBlock, b []byte) {
	_ = b[sbEnd-1]
	le := binary.LittleEndian
	le.PutUint32(b[sbMagicOff:], sb.Magic)
	le.PutUint32(b[sbFeatureOff:], sb.Feature)
	le.PutUint32(b[sbTotalInodesOff:], sb.TotalInodes)
	le.PutUint32(b[sbFreeInodesOff:], sb.FreeInodes)
	le.PutUint32(b[sbDataBlocksOff:], sb.DataBlocks)
	le.PutUint32(b[sbFreeBlocksOff:], sb.FreeBlocks)
	le.PutUint32(b[sbIBitmapStartOff:], sb.IBitmapStart)
	le.PutUint32(b[sbInodeStartOff:], sb.InodeStart)
	le.PutUint32(b[sbBBitmapStartOff:], sb.BBitmapStart)
	le.PutUint32(b[sbDataStartOff:], sb.DataStart)
	copy(b[sbUUIDOff:sbCreatedOff], sb.UUID[:])
	le.PutUint64(b[sbCreatedOff:], uint64(sb.CreatedAt))
}

// DecodeSuperBlock fails with ErrCorruptStructure on a bad magic or inconsistent counters.
func DecodeSuperBlock(b []byte) (*SuperBlock, error) {
	if len(b) < sbEnd {
		return nil, fmt.Errorf("superblock: short buffer of %d bytes: %w", len(b), fs_errors.ErrCorruptStructure)
	}
	le := binary.LittleEndian
	sb := &SuperBlock{
		Magic:        le.Uint32(b[sbMagicOff:]),
		Feature:      le.Uint32(b[sbFeatureOff:]),
		TotalInodes:  le.Uint32(b[sbTotalInodesOff:]),
		FreeInodes:   le.Uint32(b[sbFreeInodesOff:]),
		DataBlocks:   le.Uint32(b[sbDataBlocksOff:]),
		FreeBlocks:   le.Uint32(b[sbFreeBlocksOff:]),
		IBitmapStart: le.Uint32(b[sbIBitmapStartOff:]),
		InodeStart:   le.Uint32(b[sbInodeStartOff:]),
		BBitmapStart: le.Uint32(b[sbBBitmapStartOff:]),
		DataStart:    le.Uint32(b[sbDataStartOff:]),
		CreatedAt:    int64(le.Uint64(b[sbCreatedOff:])),
	}
	copy(sb.UUID[:], b[sbUUIDOff:sbCreatedOff])

	if sb.Magic != Magic {
		return nil, fmt.Errorf("superblock: bad magic %#x: %w", sb.Magic, fs_errors.ErrCorruptStructure)
	}
	if sb.FreeInodes > sb.TotalInodes || sb.FreeBlocks > sb.DataBlocks {
		return nil, fmt.Errorf("superblock: free counters exceed pool sizes: %w", fs_errors.ErrCorruptStructure)
	}
	if !(SuperBlockAddr < sb.IBitmapStart && sb.IBitmapStart < sb.InodeStart &&
		sb.InodeStart < sb.BBitmapStart && sb.BBitmapStart < sb.DataStart) {
		return nil, fmt.Errorf("superblock: regions out of order: %w", fs_errors.ErrCorruptStructure)
	}
	return sb, nil
}
