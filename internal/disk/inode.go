package disk

import (
	"encoding/binary"
	"time"
)

const (
	inoNidOff        = 0
	inoNlinkOff      = 2
	inoModeOff       = 4
	inoXattrCountOff = 6
	inoUIDOff        = 8
	inoGIDOff        = 12
	inoSizeOff       = 16
	inoXattrStartOff = 20
	inoDataOff       = 24
)

// Inode is the raw inode record. Data slots carry HoleAddr for unmapped slots.
type Inode struct {
	Nid        uint16
	Nlink      uint16
	Mode       uint16
	XattrCount uint16
	UID        uint32
	GID        uint32
	Size       uint32
	XattrStart uint32
	Data       [NumDataSlots]uint32
}

func EncodeInode(ino *Inode, b []byte) {
	_ = b[InodeSize-1]
	le := binary.LittleEndian
	le.PutUint16(b[inoNidOff:], ino.Nid)
	le.PutUint16(b[inoNlinkOff:], ino.Nlink)
	le.PutUint16(b[inoModeOff:], ino.Mode)
	le.PutUint16(b[inoXattrCountOff:], ino.XattrCount)
	le.PutUint32(b[inoUIDOff:], ino.UID)
	le.PutUint32(b[inoGIDOff:], ino.GID)
	le.PutUint32(b[inoSizeOff:], ino.Size)
	le.PutUint32(b[inoXattrStartOff:], ino.XattrStart)
	for i, addr := range ino.Data {
		le.PutUint32(b[inoDataOff+4*i:], addr)
	}
}

func DecodeInode(b []byte) *Inode {
	_ = b[InodeSize-1]
	le := binary.LittleEndian
	ino := &Inode{
		Nid:        le.Uint16(b[inoNidOff:]),
		Nlink:      le.Uint16(b[inoNlinkOff:]),
		Mode:       le.Uint16(b[inoModeOff:]),
		XattrCount: le.Uint16(b[inoXattrCountOff:]),
		UID:        le.Uint32(b[inoUIDOff:]),
		GID:        le.Uint32(b[inoGIDOff:]),
		Size:       le.Uint32(b[inoSizeOff:]),
		XattrStart: le.Uint32(b[inoXattrStartOff:]),
	}
	for i := range ino.Data {
		ino.Data[i] = le.Uint32(b[inoDataOff+4*i:])
	}
	return ino
}

const (
	tsAtimeOff = 0
	tsMtimeOff = 12
	tsCtimeOff = 24
)

// Timestamps live in the first TimestampRegionSize bytes of an inode's xattr block.
type Timestamps struct {
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

func putTime(b []byte, t time.Time) {
	if t.IsZero() {
		clear(b[:12])
		return
	}
	binary.LittleEndian.PutUint64(b, uint64(t.Unix()))
	binary.LittleEndian.PutUint32(b[8:], uint32(t.Nanosecond()))
}

func getTime(b []byte) time.Time {
	sec := int64(binary.LittleEndian.Uint64(b))
	nsec := int64(binary.LittleEndian.Uint32(b[8:]))
	if sec == 0 && nsec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, nsec).UTC()
}

func EncodeTimestamps(ts *Timestamps, b []byte) {
	_ = b[TimestampRegionSize-1]
	putTime(b[tsAtimeOff:], ts.Atime)
	putTime(b[tsMtimeOff:], ts.Mtime)
	putTime(b[tsCtimeOff:], ts.Ctime)
}

func DecodeTimestamps(b []byte) Timestamps {
	_ = b[TimestampRegionSize-1]
	return Timestamps{
		Atime: getTime(b[tsAtimeOff:]),
		Mtime: getTime(b[tsMtimeOff:]),
		Ctime: getTime(b[tsCtimeOff:]),
	}
}
