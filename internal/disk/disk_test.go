package disk

import (
	"errors"
	"testing"
	"time"

	"github.com/AnishMulay/numbfs/internal/fs_errors"
)

func validSuperBlock() *SuperBlock {
	return &SuperBlock{
		Magic:        Magic,
		TotalInodes:  64,
		FreeInodes:   63,
		DataBlocks:   128,
		FreeBlocks:   127,
		IBitmapStart: 1,
		InodeStart:   2,
		BBitmapStart: 10,
		DataStart:    11,
		CreatedAt:    1700000000,
	}
}

func TestDecodeSuperBlock(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(sb *SuperBlock)
		errorIs error
	}{
		{name: "valid"},
		{name: "bad magic", mutate: func(sb *SuperBlock) { sb.Magic = 0xEF53 }, errorIs: fs_errors.ErrCorruptStructure},
		{name: "free inodes above total", mutate: func(sb *SuperBlock) { sb.FreeInodes = 65 }, errorIs: fs_errors.ErrCorruptStructure},
		{name: "free blocks above total", mutate: func(sb *SuperBlock) { sb.FreeBlocks = 129 }, errorIs: fs_errors.ErrCorruptStructure},
		{name: "regions overlap", mutate: func(sb *SuperBlock) { sb.BBitmapStart = 2 }, errorIs: fs_errors.ErrCorruptStructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := validSuperBlock()
			if tt.mutate != nil {
				tt.mutate(sb)
			}
			buf := make([]byte, BlockSize)
			EncodeSuperBlock(sb, buf)

			got, err := DecodeSuperBlock(buf)
			if tt.errorIs != nil {
				if !errors.Is(err, tt.errorIs) {
					t.Fatalf("DecodeSuperBlock() error = %v, want %v", err, tt.errorIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeSuperBlock() error = %v", err)
			}
			if *got != *sb {
				t.Errorf("DecodeSuperBlock() = %+v, want %+v", got, sb)
			}
		})
	}
}

func TestInodeRecordsShareBlock(t *testing.T) {
	block := make([]byte, BlockSize)
	a := &Inode{Nid: 8, Nlink: 2, Mode: S_IFDIR | 0o755, Size: 128, XattrStart: 3}
	b := &Inode{Nid: 9, Nlink: 1, Mode: S_IFREG | 0o644, Size: 5, XattrStart: 4}
	for i := range a.Data {
		a.Data[i] = HoleAddr
		b.Data[i] = HoleAddr
	}
	a.Data[0] = 0
	b.Data[0] = 1

	EncodeInode(a, block[0:InodeSize])
	EncodeInode(b, block[InodeSize:2*InodeSize])

	if got := DecodeInode(block[0:InodeSize]); *got != *a {
		t.Errorf("first record = %+v, want %+v", got, a)
	}
	if got := DecodeInode(block[InodeSize:]); *got != *b {
		t.Errorf("second record = %+v, want %+v", got, b)
	}
}

func TestDecodeDirent(t *testing.T) {
	buf := make([]byte, DirentSize)
	EncodeDirent(&Dirent{Nid: 42, Type: DT_REG, Name: "hello.txt"}, buf)

	d, err := DecodeDirent(buf)
	if err != nil {
		t.Fatalf("DecodeDirent() error = %v", err)
	}
	if d.Nid != 42 || d.Type != DT_REG || d.Name != "hello.txt" {
		t.Errorf("DecodeDirent() = %+v", d)
	}
	if !DirentNameEquals(buf, "hello.txt") || DirentNameEquals(buf, "hello.tx") {
		t.Errorf("DirentNameEquals() compares lengths incorrectly")
	}

	clear(buf)
	if _, err := DecodeDirent(buf); !errors.Is(err, fs_errors.ErrCorruptStructure) {
		t.Errorf("DecodeDirent(zero name) error = %v, want ErrCorruptStructure", err)
	}
}

func TestTimestampsDoNotOverlapXattrSlots(t *testing.T) {
	block := make([]byte, BlockSize)
	now := time.Unix(1700000000, 123).UTC()
	EncodeTimestamps(&Timestamps{Atime: now, Mtime: now, Ctime: now}, block)
	EncodeXattrEntry(&XattrEntry{Valid: true, Type: XattrIndexUser, Name: "k", Value: []byte("v")}, block[XattrEntryOffset(0):])

	ts := DecodeTimestamps(block)
	if !ts.Mtime.Equal(now) {
		t.Errorf("Mtime = %v, want %v", ts.Mtime, now)
	}
	if !XattrEntryMatches(block[XattrEntryOffset(0):], XattrIndexUser, "k") {
		t.Errorf("slot 0 lost after timestamp write")
	}
	if XattrEntryOffset(MaxXattrEntries) > BlockSize {
		t.Errorf("xattr slots overflow the block")
	}
}

func TestDivRoundUp(t *testing.T) {
	if got := DivRoundUp(uint32(4097), BitsPerBlock); got != 2 {
		t.Errorf("DivRoundUp(4097, 4096) = %d", got)
	}
	if got := DivRoundUp(int64(0), BlockSize); got != 0 {
		t.Errorf("DivRoundUp(0, 512) = %d", got)
	}
}
