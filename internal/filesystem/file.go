package filesystem

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/AnishMulay/numbfs/internal/directory_store"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/xattr_store"
)

// maxSymlinkHops bounds symlink expansion during path resolution.
const maxSymlinkHops = 8

// LookupPath resolves an absolute or root-relative path. Intermediate
// symlinks are followed; a final symlink is returned as is.
func (fs *FileSystem) LookupPath(p string) (*Inode, error) {
	return fs.resolve(p, 0)
}

func (fs *FileSystem) resolve(p string, hops int) (*Inode, error) {
	cur, err := fs.Root()
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.Trim(path.Clean("/"+p), "/"), "/")
	base := "/"
	for i, name := range parts {
		if name == "" {
			continue
		}
		next, err := fs.Lookup(cur, name)
		fs.Iput(cur)
		if err != nil {
			return nil, err
		}
		cur = next
		if i == len(parts)-1 || !cur.IsSymlink() {
			base = path.Join(base, name)
			continue
		}

		if hops >= maxSymlinkHops {
			fs.Iput(cur)
			return nil, fmt.Errorf("resolve %q: too many symlinks: %w", p, fs_errors.ErrInvalidArgument)
		}
		target, err := fs.Readlink(cur)
		fs.Iput(cur)
		if err != nil {
			return nil, err
		}
		if !path.IsAbs(target) {
			target = path.Join(base, target)
		}
		return fs.resolve(path.Join(append([]string{target}, parts[i+1:]...)...), hops+1)
	}
	return cur, nil
}

// ParentOf resolves the directory holding the last element of p and returns
// it with that element's name.
func (fs *FileSystem) ParentOf(p string) (*Inode, string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return nil, "", fmt.Errorf("path %q has no parent entry: %w", p, fs_errors.ErrInvalidArgument)
	}
	dir, name := path.Split(clean)
	parent, err := fs.LookupPath(dir)
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		fs.Iput(parent)
		return nil, "", fmt.Errorf("%q: %w", dir, fs_errors.ErrNotDirectory)
	}
	return parent, name, nil
}

type DirEntry struct {
	Nid  uint32
	Type uint8
	Name string
}

// ReadDir lists up to max entries from record index cookie. It returns the
// cookie to resume from and whether the listing is complete.
func (fs *FileSystem) ReadDir(dir *Inode, cookie int64, max int) ([]DirEntry, int64, bool, error) {
	dir.Lock()
	defer dir.Unlock()
	entries, next, eof, err := fs.dirs.ReadDir(dir, cookie, max)
	if err != nil {
		return nil, 0, false, err
	}
	out := make([]DirEntry, len(entries))
	for i, e := range entries {
		out[i] = DirEntry(e)
	}
	return out, next, eof, nil
}

// Read reads file contents at off. Reads at or past the end return io.EOF.
func (fs *FileSystem) Read(ino *Inode, p []byte, off int64) (int, error) {
	ino.Lock()
	defer ino.Unlock()
	if ino.IsDir() {
		return 0, fmt.Errorf("read inode %d: %w", ino.Nid, fs_errors.ErrIsDirectory)
	}
	n, err := fs.inodes.ReadAt(ino, p, off)
	if n > 0 || errors.Is(err, io.EOF) {
		ino.Atime = time.Now().UTC()
	}
	return n, err
}

func (fs *FileSystem) Write(ino *Inode, p []byte, off int64) (int, error) {
	ino.Lock()
	defer ino.Unlock()
	if ino.IsDir() {
		return 0, fmt.Errorf("write inode %d: %w", ino.Nid, fs_errors.ErrIsDirectory)
	}
	n, err := fs.inodes.WriteAt(ino, p, off)
	if n > 0 {
		ino.Touch()
	}
	return n, err
}

// AttrChange lists the attributes SetAttr should change. Nil fields are left alone.
type AttrChange struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *int64
	Atime *time.Time
	Mtime *time.Time
}

// SetAttr applies c. A size change on a non-directory truncates or extends
// with a hole. Mode changes keep the file type.
func (fs *FileSystem) SetAttr(ino *Inode, c AttrChange) error {
	ino.Lock()
	defer ino.Unlock()

	if c.Size != nil {
		if ino.IsDir() {
			return fmt.Errorf("truncate inode %d: %w", ino.Nid, fs_errors.ErrIsDirectory)
		}
		if *c.Size < 0 || *c.Size > disk.MaxFileSize {
			return fmt.Errorf("truncate inode %d to %d: %w", ino.Nid, *c.Size, fs_errors.ErrPositionOutOfRange)
		}
		if err := fs.inodes.ZeroTail(ino, *c.Size); err != nil {
			return err
		}
		if err := fs.inodes.Truncate(ino, *c.Size); err != nil {
			return err
		}
	}
	if c.Mode != nil {
		keep := ino.Mode & disk.S_IFMT
		ino.Mode = keep | *c.Mode&^disk.S_IFMT
	}
	if c.UID != nil {
		ino.UID = *c.UID
	}
	if c.GID != nil {
		ino.GID = *c.GID
	}
	if c.Atime != nil {
		ino.Atime = c.Atime.UTC()
	}
	if c.Mtime != nil {
		ino.Mtime = c.Mtime.UTC()
	}
	ino.TouchCtime()
	return nil
}

// GetXattr copies the value of a "user." or "trusted." attribute into buf.
// An empty buf asks for the value size only.
func (fs *FileSystem) GetXattr(ino *Inode, name string, buf []byte) (int, error) {
	index, short, err := xattr_store.ParseName(name)
	if err != nil {
		return 0, err
	}
	ino.Lock()
	defer ino.Unlock()
	return fs.xattrs.Get(ino, index, short, buf)
}

// SetXattr stores value under name. An empty value removes the attribute.
func (fs *FileSystem) SetXattr(ino *Inode, name string, value []byte, flags int) error {
	index, short, err := xattr_store.ParseName(name)
	if err != nil {
		return err
	}
	ino.Lock()
	defer ino.Unlock()
	return fs.xattrs.Set(ino, index, short, value, flags)
}

func (fs *FileSystem) RemoveXattr(ino *Inode, name string) error {
	index, short, err := xattr_store.ParseName(name)
	if err != nil {
		return err
	}
	ino.Lock()
	defer ino.Unlock()
	return fs.xattrs.Remove(ino, index, short)
}

func (fs *FileSystem) ListXattr(ino *Inode) ([]string, error) {
	ino.Lock()
	defer ino.Unlock()
	return fs.xattrs.List(ino)
}

// ValidateName reports whether name can be a new directory entry.
func ValidateName(name string) error {
	return directory_store.ValidateName(name)
}
