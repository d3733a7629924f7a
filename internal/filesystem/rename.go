package filesystem

import (
	"fmt"
	"slices"

	"github.com/AnishMulay/numbfs/internal/directory_store"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"
	"github.com/AnishMulay/numbfs/internal/superblock"
)

// ancestry returns nid followed by the nids of its parents up to the root.
// No directory lock may be held by the caller.
func (fs *FileSystem) ancestry(nid uint32) ([]uint32, error) {
	chain := []uint32{nid}
	limit := int(fs.sb.Total(superblock.InodePool)) + 1
	for nid != disk.RootNid {
		if len(chain) > limit {
			return nil, fmt.Errorf("directory %d: parent chain loops: %w", chain[0], fs_errors.ErrCorruptStructure)
		}
		dir, err := fs.inodes.Get(nid)
		if err != nil {
			return nil, err
		}
		dir.Lock()
		entry, _, err := fs.dirs.Lookup(dir, "..")
		dir.Unlock()
		fs.Iput(dir)
		if err != nil {
			return nil, err
		}
		nid = entry.Nid
		chain = append(chain, nid)
	}
	return chain, nil
}

// lockParents locks oldDir and newDir, an ancestor before its descendant and
// unrelated directories by ascending nid.
func lockParents(oldDir, newDir *Inode, oldChain, newChain []uint32) func() {
	if oldDir == newDir {
		oldDir.Lock()
		return oldDir.Unlock
	}
	first, second := oldDir, newDir
	switch {
	case slices.Contains(newChain, oldDir.Nid):
	case slices.Contains(oldChain, newDir.Nid):
		first, second = newDir, oldDir
	case newDir.Nid < oldDir.Nid:
		first, second = newDir, oldDir
	}
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}

func (fs *FileSystem) peek(dir *Inode, name string) (uint32, error) {
	dir.Lock()
	defer dir.Unlock()
	entry, _, err := fs.dirs.Lookup(dir, name)
	return entry.Nid, err
}

// Rename moves oldName in oldDir to newName in newDir, replacing a compatible
// destination. Renames across directories are serialized by the session.
func (fs *FileSystem) Rename(oldDir *Inode, oldName string, newDir *Inode, newName string) error {
	if oldName == "." || oldName == ".." {
		return fmt.Errorf("rename %q: %w", oldName, fs_errors.ErrInvalidArgument)
	}
	if err := directory_store.ValidateName(newName); err != nil {
		return err
	}
	if err := fs.owns(oldDir, newDir); err != nil {
		return err
	}
	if !oldDir.IsDir() || !newDir.IsDir() {
		return fmt.Errorf("rename parent: %w", fs_errors.ErrNotDirectory)
	}
	if oldDir == newDir && oldName == newName {
		_, err := fs.peek(oldDir, oldName)
		return err
	}

	var oldChain, newChain []uint32
	srcNid, err := fs.peek(oldDir, oldName)
	if err != nil {
		return err
	}
	if oldDir != newDir {
		fs.renameMu.Lock()
		defer fs.renameMu.Unlock()

		if oldChain, err = fs.ancestry(oldDir.Nid); err != nil {
			return err
		}
		if newChain, err = fs.ancestry(newDir.Nid); err != nil {
			return err
		}
		if slices.Contains(newChain, srcNid) {
			return fmt.Errorf("rename %q into its own subtree: %w", oldName, fs_errors.ErrInvalidArgument)
		}
	}

	unlock := lockParents(oldDir, newDir, oldChain, newChain)
	defer unlock()

	src, _, err := fs.dirs.Lookup(oldDir, oldName)
	if err != nil {
		return err
	}
	if oldDir != newDir && slices.Contains(newChain, src.Nid) {
		return fmt.Errorf("rename %q into its own subtree: %w", oldName, fs_errors.ErrInvalidArgument)
	}
	srcIno, err := fs.inodes.Get(src.Nid)
	if err != nil {
		return err
	}
	defer fs.Iput(srcIno)

	dst, dstOff, err := fs.dirs.Lookup(newDir, newName)
	switch {
	case err == nil:
		if dst.Nid == src.Nid {
			return nil
		}
		if dst.Nid == oldDir.Nid {
			return fmt.Errorf("rename over ancestor %d: %w", dst.Nid, fs_errors.ErrNotEmpty)
		}
		if err := fs.replace(newDir, dstOff, dst.Nid, srcIno); err != nil {
			return err
		}
	case !isNotFound(err):
		return err
	}

	// Removing the destination can move records of a shared parent.
	_, srcOff, err := fs.dirs.Lookup(oldDir, oldName)
	if err != nil {
		return err
	}
	if err := fs.dirs.Remove(oldDir, srcOff); err != nil {
		return err
	}
	if err := fs.dirs.Append(newDir, newName, src.Nid, src.Type); err != nil {
		fs.ls.Error(log_service.LogEvent{
			Message: "Rename lost its source entry",
			Metadata: map[string]any{
				"nid":   src.Nid,
				"from":  oldName,
				"to":    newName,
				"error": err.Error(),
			},
		})
		return err
	}

	srcIno.Lock()
	defer srcIno.Unlock()
	if srcIno.IsDir() && oldDir != newDir {
		_, dotdot, err := fs.dirs.Lookup(srcIno, "..")
		if err != nil {
			return err
		}
		if err := fs.dirs.WriteAt(srcIno, "..", newDir.Nid, disk.DT_DIR, dotdot); err != nil {
			return err
		}
		if oldDir.Nlink > 2 {
			oldDir.Nlink--
		}
		newDir.Nlink++
	}
	srcIno.TouchCtime()
	oldDir.Touch()
	newDir.Touch()

	fs.ls.Debug(log_service.LogEvent{
		Message: "Renamed entry",
		Metadata: map[string]any{
			"nid":    src.Nid,
			"oldDir": oldDir.Nid,
			"from":   oldName,
			"newDir": newDir.Nid,
			"to":     newName,
		},
	})
	return nil
}

// replace drops the destination entry at off in dir ahead of a rename of src.
func (fs *FileSystem) replace(dir *Inode, off int64, nid uint32, src *Inode) error {
	target, err := fs.inodes.Get(nid)
	if err != nil {
		return err
	}
	defer fs.Iput(target)

	target.Lock()
	defer target.Unlock()
	switch {
	case src.IsDir() && !target.IsDir():
		return fmt.Errorf("rename over inode %d: %w", nid, fs_errors.ErrNotDirectory)
	case !src.IsDir() && target.IsDir():
		return fmt.Errorf("rename over directory %d: %w", nid, fs_errors.ErrIsDirectory)
	case target.IsDir():
		empty, err := fs.dirs.IsEmpty(target)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("rename over directory %d: %w", nid, fs_errors.ErrNotEmpty)
		}
	}
	return fs.dropEntry(dir, off, target)
}
