package disk

import (
	"encoding/binary"
	"fmt"

	"github.com/AnishMulay/numbfs/internal/fs_errors"
)

const (
	direntNidOff     = 0
	direntNameLenOff = 4
	direntTypeOff    = 5
	direntNameOff    = 8
)

type Dirent struct {
	Nid  uint32
	Type uint8
	Name string
}

func EncodeDirent(d *Dirent, b []byte) {
	_ = b[DirentSize-1]
	clear(b[:DirentSize])
	binary.LittleEndian.PutUint32(b[direntNidOff:], d.Nid)
	b[direntNameLenOff] = uint8(len(d.Name))
	b[direntTypeOff] = d.Type
	copy(b[direntNameOff:DirentSize], d.Name)
}

// DecodeDirent rejects records whose name length is zero or larger than MaxNameLen.
func DecodeDirent(b []byte) (*Dirent, error) {
	_ = b[DirentSize-1]
	n := int(b[direntNameLenOff])
	if n == 0 || n > MaxNameLen {
		return nil, fmt.Errorf("dirent: name length %d: %w", n, fs_errors.ErrCorruptStructure)
	}
	return &Dirent{
		Nid:  binary.LittleEndian.Uint32(b[direntNidOff:]),
		Type: b[direntTypeOff],
		Name: string(b[direntNameOff : direntNameOff+n]),
	}, nil
}

// DirentNameEquals compares a record's name without allocating.
func DirentNameEquals(b []byte, name string) bool {
	n := int(b[direntNameLenOff])
	if n != len(name) || n > MaxNameLen {
		return false
	}
	return string(b[direntNameOff:direntNameOff+n]) == name
}
