// Package directory_store keeps directory entries as a flat, unordered array
// of fixed-size records inside the directory's own byte stream.
//
// Every function expects the caller to hold the directory's inode lock.
package directory_store

import (
	"fmt"
	"strings"

	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/inode_store"
	"github.com/AnishMulay/numbfs/internal/log_service"
)

type Entry struct {
	Nid  uint32
	Type uint8
	Name string
}

type Store struct {
	inodes *inode_store.Store
	ls     log_service.LogService
}

func NewStore(inodes *inode_store.Store, ls log_service.LogService) *Store {
	return &Store{inodes: inodes, ls: ls}
}

// ValidateName rejects names that cannot become a new directory entry.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("name %q: %w", name, fs_errors.ErrInvalidArgument)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("name %q: %w", name, fs_errors.ErrInvalidArgument)
	case len(name) > disk.MaxNameLen:
		return fmt.Errorf("name of %d bytes: %w", len(name), fs_errors.ErrNameTooLong)
	}
	return nil
}

func checkDir(dir *inode_store.Inode) error {
	if !dir.IsDir() {
		return fmt.Errorf("inode %d: %w", dir.Nid, fs_errors.ErrNotDirectory)
	}
	if dir.Size%disk.DirentSize != 0 {
		return fmt.Errorf("directory %d size %d: %w", dir.Nid, dir.Size, fs_errors.ErrCorruptStructure)
	}
	return nil
}

func checkOffset(dir *inode_store.Inode, off int64) error {
	if off < 0 || off%disk.DirentSize != 0 || off >= dir.Size {
		return fmt.Errorf("directory %d offset %d: %w", dir.Nid, off, fs_errors.ErrInvalidArgument)
	}
	return nil
}

// withBlock runs fn on the locked block that holds byte off of dir.
// fn receives the whole block and the offset of off within it.
func (d *Store) withBlock(dir *inode_store.Inode, off int64, allocate bool, fn func(block []byte, inBlock int)) error {
	slot, err := d.inodes.Translate(dir, off, allocate)
	if err != nil {
		return err
	}
	if slot.IsHole() {
		return fmt.Errorf("directory %d has a hole at %d: %w", dir.Nid, off, fs_errors.ErrCorruptStructure)
	}
	cache := d.inodes.Cache()
	buf, err := cache.Get(d.inodes.PhysicalAddr(slot))
	if err != nil {
		return err
	}
	buf.Lock()
	fn(buf.Data(), int(off%disk.BlockSize))
	buf.MarkDirty()
	buf.Unlock()
	cache.Put(buf)
	return nil
}

// readBlock copies out the records of the block holding off, up to the directory size.
func (d *Store) readBlock(dir *inode_store.Inode, off int64) ([]byte, error) {
	slot, err := d.inodes.Translate(dir, off, false)
	if err != nil {
		return nil, err
	}
	if slot.IsHole() {
		return nil, fmt.Errorf("directory %d has a hole at %d: %w", dir.Nid, off, fs_errors.ErrCorruptStructure)
	}
	cache := d.inodes.Cache()
	buf, err := cache.Get(d.inodes.PhysicalAddr(slot))
	if err != nil {
		return nil, err
	}
	start := off % disk.BlockSize
	n := min(dir.Size-off, disk.BlockSize-start)
	out := make([]byte, n)
	buf.Lock()
	copy(out, buf.Data()[start:start+n])
	buf.Unlock()
	cache.Put(buf)
	return out, nil
}

// Lookup scans dir for name and returns the first matching entry and its byte offset.
func (d *Store) Lookup(dir *inode_store.Inode, name string) (Entry, int64, error) {
	if len(name) > disk.MaxNameLen {
		return Entry{}, 0, fmt.Errorf("lookup name of %d bytes: %w", len(name), fs_errors.ErrNameTooLong)
	}
	if err := checkDir(dir); err != nil {
		return Entry{}, 0, err
	}

	for off := int64(0); off < dir.Size; {
		records, err := d.readBlock(dir, off)
		if err != nil {
			return Entry{}, 0, err
		}
		for i := 0; i < len(records); i += disk.DirentSize {
			rec := records[i : i+disk.DirentSize]
			if !disk.DirentNameEquals(rec, name) {
				continue
			}
			de, err := disk.DecodeDirent(rec)
			if err != nil {
				return Entry{}, 0, fmt.Errorf("directory %d offset %d: %w", dir.Nid, off+int64(i), err)
			}
			return Entry{Nid: de.Nid, Type: de.Type, Name: de.Name}, off + int64(i), nil
		}
		off += int64(len(records))
	}
	return Entry{}, 0, fmt.Errorf("lookup %q in directory %d: %w", name, dir.Nid, fs_errors.ErrNotFound)
}

// Append writes one record at the end of dir and grows it by one record.
func (d *Store) Append(dir *inode_store.Inode, name string, nid uint32, typ uint8) error {
	if err := checkDir(dir); err != nil {
		return err
	}
	if name == "" || len(name) > disk.MaxNameLen {
		return fmt.Errorf("append name of %d bytes: %w", len(name), fs_errors.ErrNameTooLong)
	}

	off := dir.Size
	err := d.withBlock(dir, off, true, func(block []byte, at int) {
		disk.EncodeDirent(&disk.Dirent{Nid: nid, Type: typ, Name: name}, block[at:at+disk.DirentSize])
	})
	if err != nil {
		return err
	}
	dir.Size = off + disk.DirentSize
	dir.Touch()
	return nil
}

// WriteAt overwrites the record at off without changing the size.
func (d *Store) WriteAt(dir *inode_store.Inode, name string, nid uint32, typ uint8, off int64) error {
	if err := checkDir(dir); err != nil {
		return err
	}
	if err := checkOffset(dir, off); err != nil {
		return err
	}
	if name == "" || len(name) > disk.MaxNameLen {
		return fmt.Errorf("write name of %d bytes: %w", len(name), fs_errors.ErrNameTooLong)
	}

	err := d.withBlock(dir, off, false, func(block []byte, at int) {
		disk.EncodeDirent(&disk.Dirent{Nid: nid, Type: typ, Name: name}, block[at:at+disk.DirentSize])
	})
	if err != nil {
		return err
	}
	dir.Touch()
	return nil
}

// Remove deletes the record at off by moving the last record into its place.
// Offsets of other entries obtained before the call may no longer be valid.
func (d *Store) Remove(dir *inode_store.Inode, off int64) error {
	if err := checkDir(dir); err != nil {
		return err
	}
	if err := checkOffset(dir, off); err != nil {
		return err
	}

	last := dir.Size - disk.DirentSize
	if off != last {
		moved := make([]byte, disk.DirentSize)
		err := d.withBlock(dir, last, false, func(block []byte, at int) {
			copy(moved, block[at:at+disk.DirentSize])
		})
		if err != nil {
			return err
		}
		err = d.withBlock(dir, off, false, func(block []byte, at int) {
			copy(block[at:at+disk.DirentSize], moved)
		})
		if err != nil {
			return err
		}
	}
	dir.Size = last
	dir.Touch()
	return nil
}

// MakeEmpty writes the "." and ".." records into a new, empty directory.
func (d *Store) MakeEmpty(dir *inode_store.Inode, parent uint32) error {
	if dir.Size != 0 {
		return fmt.Errorf("directory %d already has entries: %w", dir.Nid, fs_errors.ErrInvalidArgument)
	}
	if err := d.Append(dir, ".", dir.Nid, disk.DT_DIR); err != nil {
		return err
	}
	return d.Append(dir, "..", parent, disk.DT_DIR)
}

// IsEmpty reports whether dir holds exactly "." and "..".
func (d *Store) IsEmpty(dir *inode_store.Inode) (bool, error) {
	if err := checkDir(dir); err != nil {
		return false, err
	}
	if dir.Size != 2*disk.DirentSize {
		return false, nil
	}
	records, err := d.readBlock(dir, 0)
	if err != nil {
		return false, err
	}
	a, b := records[:disk.DirentSize], records[disk.DirentSize:2*disk.DirentSize]
	dots := (disk.DirentNameEquals(a, ".") && disk.DirentNameEquals(b, "..")) ||
		(disk.DirentNameEquals(a, "..") && disk.DirentNameEquals(b, "."))
	return dots, nil
}

// ReadDir returns up to max entries starting at record index cookie, the
// cookie to continue from and whether the end was reached. max <= 0 means all.
func (d *Store) ReadDir(dir *inode_store.Inode, cookie int64, max int) ([]Entry, int64, bool, error) {
	if err := checkDir(dir); err != nil {
		return nil, 0, false, err
	}
	if cookie < 0 {
		return nil, 0, false, fmt.Errorf("readdir cookie %d: %w", cookie, fs_errors.ErrInvalidArgument)
	}

	var entries []Entry
	off := cookie * disk.DirentSize
	for off < dir.Size {
		records, err := d.readBlock(dir, off)
		if err != nil {
			return nil, 0, false, err
		}
		for i := 0; i < len(records); i += disk.DirentSize {
			if max > 0 && len(entries) == max {
				return entries, off / disk.DirentSize, false, nil
			}
			de, err := disk.DecodeDirent(records[i : i+disk.DirentSize])
			if err != nil {
				d.ls.Error(log_service.LogEvent{
					Message:  "Corrupt directory record",
					Metadata: map[string]any{"dir": dir.Nid, "offset": off, "error": err.Error()},
				})
				return nil, 0, false, fmt.Errorf("directory %d offset %d: %w", dir.Nid, off, err)
			}
			entries = append(entries, Entry{Nid: de.Nid, Type: de.Type, Name: de.Name})
			off += disk.DirentSize
		}
	}
	return entries, off / disk.DirentSize, true, nil
}
