package filesystem

import (
	"fmt"

	"github.com/AnishMulay/numbfs/internal/directory_store"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"
)

// Lookup resolves name in dir and returns a referenced handle. "." and ".."
// resolve through the directory's own records.
func (fs *FileSystem) Lookup(dir *Inode, name string) (*Inode, error) {
	if err := fs.owns(dir); err != nil {
		return nil, err
	}
	dir.Lock()
	defer dir.Unlock()

	entry, _, err := fs.dirs.Lookup(dir, name)
	if err != nil {
		return nil, err
	}
	return fs.inodes.Get(entry.Nid)
}

// newChild allocates an inode, lets init fill it and links it into dir under
// name. dir is locked by the caller. A failure after allocation releases the
// new inode again.
func (fs *FileSystem) newChild(dir *Inode, name string, mode, uid, gid uint32, init func(ino *Inode) error) (*Inode, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("inode %d: %w", dir.Nid, fs_errors.ErrNotDirectory)
	}
	if dir.Nlink == 0 {
		return nil, fmt.Errorf("directory %d was removed: %w", dir.Nid, fs_errors.ErrNotFound)
	}
	_, _, err := fs.dirs.Lookup(dir, name)
	if err == nil {
		return nil, fmt.Errorf("%q: %w", name, fs_errors.ErrAlreadyExists)
	}
	if !isNotFound(err) {
		return nil, err
	}

	ino, err := fs.inodes.AllocateNew(dir, mode, uid, gid)
	if err != nil {
		return nil, err
	}

	discard := func(cause error) (*Inode, error) {
		ino.Lock()
		ino.Nlink = 0
		ino.Unlock()
		fs.Iput(ino)
		return nil, cause
	}

	if init != nil {
		ino.Lock()
		err = init(ino)
		ino.Unlock()
		if err != nil {
			return discard(err)
		}
	}
	if err := fs.dirs.Append(dir, name, ino.Nid, ino.DType()); err != nil {
		return discard(err)
	}
	return ino, nil
}

func (fs *FileSystem) logCreated(op string, dir *Inode, name string, ino *Inode) {
	fs.ls.Debug(log_service.LogEvent{
		Message:  "Created " + op,
		Metadata: map[string]any{"dir": dir.Nid, "name": name, "nid": ino.Nid},
	})
}

// Create makes a regular file. Only the permission bits of mode are used
// unless it already names a regular file.
func (fs *FileSystem) Create(dir *Inode, name string, mode, uid, gid uint32) (*Inode, error) {
	switch mode & disk.S_IFMT {
	case 0, disk.S_IFREG:
	default:
		return nil, fmt.Errorf("create %q with mode %#o: %w", name, mode, fs_errors.ErrUnsupported)
	}
	if err := directory_store.ValidateName(name); err != nil {
		return nil, err
	}
	if err := fs.owns(dir); err != nil {
		return nil, err
	}

	dir.Lock()
	defer dir.Unlock()
	ino, err := fs.newChild(dir, name, disk.S_IFREG|mode&^disk.S_IFMT, uid, gid, nil)
	if err != nil {
		return nil, err
	}
	dir.Touch()
	fs.logCreated("file", dir, name, ino)
	return ino, nil
}

// Mkdir makes a directory holding "." and ".." and counts its ".." against dir.
func (fs *FileSystem) Mkdir(dir *Inode, name string, mode, uid, gid uint32) (*Inode, error) {
	if err := directory_store.ValidateName(name); err != nil {
		return nil, err
	}
	if err := fs.owns(dir); err != nil {
		return nil, err
	}

	dir.Lock()
	defer dir.Unlock()
	if dir.Nlink >= MaxLinks {
		return nil, fmt.Errorf("directory %d: %w", dir.Nid, fs_errors.ErrTooManyLinks)
	}
	perm := mode & disk.PermMask
	ino, err := fs.newChild(dir, name, disk.S_IFDIR|perm, uid, gid, func(ino *Inode) error {
		return fs.dirs.MakeEmpty(ino, dir.Nid)
	})
	if err != nil {
		return nil, err
	}
	dir.Nlink++
	dir.Touch()
	fs.logCreated("directory", dir, name, ino)
	return ino, nil
}

// Symlink makes a symbolic link whose contents are target.
func (fs *FileSystem) Symlink(dir *Inode, name, target string, uid, gid uint32) (*Inode, error) {
	if target == "" {
		return nil, fmt.Errorf("empty symlink target: %w", fs_errors.ErrNotFound)
	}
	if len(target) > disk.MaxSymlinkLen {
		return nil, fmt.Errorf("symlink target of %d bytes: %w", len(target), fs_errors.ErrNameTooLong)
	}
	if err := directory_store.ValidateName(name); err != nil {
		return nil, err
	}
	if err := fs.owns(dir); err != nil {
		return nil, err
	}

	dir.Lock()
	defer dir.Unlock()
	ino, err := fs.newChild(dir, name, disk.S_IFLNK|0o777, uid, gid, func(ino *Inode) error {
		_, err := fs.inodes.WriteAt(ino, []byte(target), 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	dir.Touch()
	fs.logCreated("symlink", dir, name, ino)
	return ino, nil
}

// Link adds name in dir as another hard link to ino.
func (fs *FileSystem) Link(ino, dir *Inode, name string) error {
	if ino.IsDir() {
		return fmt.Errorf("hard link to directory %d: %w", ino.Nid, fs_errors.ErrOperationNotPermitted)
	}
	if err := fs.owns(ino, dir); err != nil {
		return err
	}
	if err := directory_store.ValidateName(name); err != nil {
		return err
	}

	dir.Lock()
	defer dir.Unlock()
	if !dir.IsDir() {
		return fmt.Errorf("inode %d: %w", dir.Nid, fs_errors.ErrNotDirectory)
	}
	ino.Lock()
	defer ino.Unlock()

	_, _, err := fs.dirs.Lookup(dir, name)
	if err == nil {
		return fmt.Errorf("%q: %w", name, fs_errors.ErrAlreadyExists)
	}
	if !isNotFound(err) {
		return err
	}
	if ino.Nlink == 0 {
		return fmt.Errorf("inode %d was removed: %w", ino.Nid, fs_errors.ErrNotFound)
	}
	if ino.Nlink >= MaxLinks {
		return fmt.Errorf("inode %d: %w", ino.Nid, fs_errors.ErrTooManyLinks)
	}

	ino.Nlink++
	if err := fs.dirs.Append(dir, name, ino.Nid, ino.DType()); err != nil {
		ino.Nlink--
		return err
	}
	ino.TouchCtime()
	dir.Touch()
	return nil
}

// dropEntry removes the record at off from dir and the link it held on
// target. Both are locked by the caller.
func (fs *FileSystem) dropEntry(dir *Inode, off int64, target *Inode) error {
	if err := fs.dirs.Remove(dir, off); err != nil {
		return err
	}
	if target.IsDir() {
		target.Nlink = 0
		if dir.Nlink > 2 {
			dir.Nlink--
		}
	} else if target.Nlink > 0 {
		target.Nlink--
	}
	target.TouchCtime()
	dir.Touch()
	return nil
}

// Unlink removes a non-directory entry. The inode is reclaimed once its last
// link and last handle are gone.
func (fs *FileSystem) Unlink(dir *Inode, name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("unlink %q: %w", name, fs_errors.ErrIsDirectory)
	}
	if err := fs.owns(dir); err != nil {
		return err
	}
	dir.Lock()
	defer dir.Unlock()

	entry, off, err := fs.dirs.Lookup(dir, name)
	if err != nil {
		return err
	}
	target, err := fs.inodes.Get(entry.Nid)
	if err != nil {
		return err
	}
	defer fs.Iput(target)

	target.Lock()
	defer target.Unlock()
	if target.IsDir() {
		return fmt.Errorf("unlink %q: %w", name, fs_errors.ErrIsDirectory)
	}
	return fs.dropEntry(dir, off, target)
}

// Rmdir removes an empty directory.
func (fs *FileSystem) Rmdir(dir *Inode, name string) error {
	switch name {
	case ".":
		return fmt.Errorf("rmdir %q: %w", name, fs_errors.ErrInvalidArgument)
	case "..":
		return fmt.Errorf("rmdir %q: %w", name, fs_errors.ErrNotEmpty)
	}
	if err := fs.owns(dir); err != nil {
		return err
	}
	dir.Lock()
	defer dir.Unlock()

	entry, off, err := fs.dirs.Lookup(dir, name)
	if err != nil {
		return err
	}
	target, err := fs.inodes.Get(entry.Nid)
	if err != nil {
		return err
	}
	defer fs.Iput(target)

	target.Lock()
	defer target.Unlock()
	if !target.IsDir() {
		return fmt.Errorf("rmdir %q: %w", name, fs_errors.ErrNotDirectory)
	}
	empty, err := fs.dirs.IsEmpty(target)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("rmdir %q: %w", name, fs_errors.ErrNotEmpty)
	}
	return fs.dropEntry(dir, off, target)
}

// Readlink returns the target stored in a symlink.
func (fs *FileSystem) Readlink(ino *Inode) (string, error) {
	ino.Lock()
	defer ino.Unlock()
	if !ino.IsSymlink() {
		return "", fmt.Errorf("inode %d is not a symlink: %w", ino.Nid, fs_errors.ErrInvalidArgument)
	}
	buf := make([]byte, ino.Size)
	n, err := fs.inodes.ReadAt(ino, buf, 0)
	if n < len(buf) && err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
