package ondisk

import (
	"context"
	"fmt"
	"time"

	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/filesystem"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"
	pms "github.com/AnishMulay/numbfs/internal/posix_metadata_service"
)

// OnDiskPosixMetadataService serves metadata requests from a mounted numbfs
// volume. Inode ids are nids.
type OnDiskPosixMetadataService struct {
	fs *filesystem.FileSystem
	ls log_service.LogService
}

func NewOnDiskPosixMetadataService(fs *filesystem.FileSystem, ls log_service.LogService) *OnDiskPosixMetadataService {
	return &OnDiskPosixMetadataService{fs: fs, ls: ls}
}

// --- Lifecycle ---

func (s *OnDiskPosixMetadataService) Start() error {
	s.ls.Info(log_service.LogEvent{
		Message:  "Starting on-disk POSIX metadata service",
		Metadata: map[string]any{"fsID": s.fs.ID()},
	})
	return nil
}

func (s *OnDiskPosixMetadataService) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping on-disk POSIX metadata service"})
	return s.fs.Sync()
}

// --- Helpers ---

func (s *OnDiskPosixMetadataService) begin(ctx context.Context, op string, meta map[string]any) error {
	s.ls.Debug(log_service.LogEvent{Message: op + " Request", Metadata: meta})
	return ctx.Err()
}

func (s *OnDiskPosixMetadataService) fail(op string, err error, meta map[string]any) error {
	m := map[string]any{"error": err.Error()}
	for k, v := range meta {
		m[k] = v
	}
	s.ls.Error(log_service.LogEvent{Message: op + " failed", Metadata: m})
	return err
}

// with runs fn on a referenced handle for nid.
func (s *OnDiskPosixMetadataService) with(nid uint32, fn func(ino *filesystem.Inode) error) error {
	ino, err := s.fs.Iget(nid)
	if err != nil {
		return err
	}
	defer s.fs.Iput(ino)
	return fn(ino)
}

func inodeType(mode uint32) pms.InodeType {
	switch mode & disk.S_IFMT {
	case disk.S_IFDIR:
		return pms.TypeDirectory
	case disk.S_IFLNK:
		return pms.TypeSymlink
	}
	return pms.TypeFile
}

func direntType(t uint8) pms.InodeType {
	switch t {
	case disk.DT_DIR:
		return pms.TypeDirectory
	case disk.DT_LNK:
		return pms.TypeSymlink
	}
	return pms.TypeFile
}

func toAttributes(a filesystem.Attr) *pms.Attributes {
	return &pms.Attributes{
		InodeID:    a.Nid,
		Type:       inodeType(a.Mode),
		Mode:       a.Mode,
		LinkCount:  a.Nlink,
		Size:       a.Size,
		Blocks:     a.Blocks,
		XattrCount: int(a.XattrCount),
		AccessTime: a.Atime,
		ModifyTime: a.Mtime,
		ChangeTime: a.Ctime,
		UID:        a.UID,
		GID:        a.GID,
	}
}

func (s *OnDiskPosixMetadataService) attrs(ino *filesystem.Inode) *pms.Attributes {
	return toAttributes(s.fs.Stat(ino))
}

// --- 1. GETATTR ---

func (s *OnDiskPosixMetadataService) GetAttributes(ctx context.Context, inodeID uint32) (*pms.Attributes, error) {
	meta := map[string]any{"inodeID": inodeID}
	if err := s.begin(ctx, "GetAttributes", meta); err != nil {
		return nil, err
	}
	var out *pms.Attributes
	err := s.with(inodeID, func(ino *filesystem.Inode) error {
		out = s.attrs(ino)
		return nil
	})
	if err != nil {
		return nil, s.fail("GetAttributes", err, meta)
	}
	return out, nil
}

// --- 2. SETATTR ---

func (s *OnDiskPosixMetadataService) SetAttributes(ctx context.Context, inodeID uint32, mode *uint32, uid, gid *uint32, size *int64, atime, mtime *int64) (*pms.Attributes, error) {
	meta := map[string]any{"inodeID": inodeID}
	if err := s.begin(ctx, "SetAttributes", meta); err != nil {
		return nil, err
	}

	change := filesystem.AttrChange{Mode: mode, UID: uid, GID: gid, Size: size}
	if atime != nil {
		t := time.Unix(0, *atime)
		change.Atime = &t
	}
	if mtime != nil {
		t := time.Unix(0, *mtime)
		change.Mtime = &t
	}

	var out *pms.Attributes
	err := s.with(inodeID, func(ino *filesystem.Inode) error {
		if err := s.fs.SetAttr(ino, change); err != nil {
			return err
		}
		out = s.attrs(ino)
		return nil
	})
	if err != nil {
		return nil, s.fail("SetAttributes", err, meta)
	}
	return out, nil
}

// --- 3. LOOKUP ---

func (s *OnDiskPosixMetadataService) Lookup(ctx context.Context, parentInodeID uint32, name string) (uint32, error) {
	meta := map[string]any{"parent": parentInodeID, "name": name}
	if err := s.begin(ctx, "Lookup", meta); err != nil {
		return 0, err
	}
	var nid uint32
	err := s.with(parentInodeID, func(dir *filesystem.Inode) error {
		child, err := s.fs.Lookup(dir, name)
		if err != nil {
			return err
		}
		nid = child.Nid
		s.fs.Iput(child)
		return nil
	})
	if err != nil {
		return 0, s.fail("Lookup", err, meta)
	}
	return nid, nil
}

func (s *OnDiskPosixMetadataService) LookupPath(ctx context.Context, path string) (uint32, error) {
	meta := map[string]any{"path": path}
	if err := s.begin(ctx, "LookupPath", meta); err != nil {
		return 0, err
	}
	ino, err := s.fs.LookupPath(path)
	if err != nil {
		return 0, s.fail("LookupPath", err, meta)
	}
	nid := ino.Nid
	s.fs.Iput(ino)
	return nid, nil
}

// --- 4. ACCESS ---

func (s *OnDiskPosixMetadataService) Access(ctx context.Context, inodeID uint32, uid, gid uint32, accessMask uint32) error {
	meta := map[string]any{"inodeID": inodeID, "uid": uid, "mask": accessMask}
	if err := s.begin(ctx, "Access", meta); err != nil {
		return err
	}
	attr, err := s.GetAttributes(ctx, inodeID)
	if err != nil {
		return err
	}
	if !permits(attr, uid, gid, accessMask) {
		return fmt.Errorf("inode %d mask %o for uid %d: %w", inodeID, accessMask, uid, fs_errors.ErrPermissionDenied)
	}
	return nil
}

func permits(attr *pms.Attributes, uid, gid, mask uint32) bool {
	if uid == 0 {
		// root may execute only when some execute bit is set.
		return mask&pms.AccessExecute == 0 || attr.Type == pms.TypeDirectory || attr.Mode&0o111 != 0
	}
	var bits uint32
	switch {
	case uid == attr.UID:
		bits = attr.Mode>>6&7
	case gid == attr.GID:
		bits = attr.Mode>>3&7
	default:
		bits = attr.Mode & 7
	}
	return bits&mask == mask
}

// --- 5. CREATE / MKDIR / SYMLINK / LINK ---

type creator func(dir *filesystem.Inode) (*filesystem.Inode, error)

func (s *OnDiskPosixMetadataService) create(ctx context.Context, op string, parentInodeID uint32, name string, fn creator) (*pms.Attributes, error) {
	meta := map[string]any{"parent": parentInodeID, "name": name}
	if err := s.begin(ctx, op, meta); err != nil {
		return nil, err
	}
	var out *pms.Attributes
	err := s.with(parentInodeID, func(dir *filesystem.Inode) error {
		ino, err := fn(dir)
		if err != nil {
			return err
		}
		out = s.attrs(ino)
		s.fs.Iput(ino)
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err, meta)
	}
	return out, nil
}

func (s *OnDiskPosixMetadataService) Create(ctx context.Context, parentInodeID uint32, name string, mode uint32, uid, gid uint32) (*pms.Attributes, error) {
	return s.create(ctx, "Create", parentInodeID, name, func(dir *filesystem.Inode) (*filesystem.Inode, error) {
		return s.fs.Create(dir, name, mode, uid, gid)
	})
}

func (s *OnDiskPosixMetadataService) Mkdir(ctx context.Context, parentInodeID uint32, name string, mode uint32, uid, gid uint32) (*pms.Attributes, error) {
	return s.create(ctx, "Mkdir", parentInodeID, name, func(dir *filesystem.Inode) (*filesystem.Inode, error) {
		return s.fs.Mkdir(dir, name, mode, uid, gid)
	})
}

func (s *OnDiskPosixMetadataService) Symlink(ctx context.Context, parentInodeID uint32, name, target string, uid, gid uint32) (*pms.Attributes, error) {
	return s.create(ctx, "Symlink", parentInodeID, name, func(dir *filesystem.Inode) (*filesystem.Inode, error) {
		return s.fs.Symlink(dir, name, target, uid, gid)
	})
}

func (s *OnDiskPosixMetadataService) Readlink(ctx context.Context, inodeID uint32) (string, error) {
	meta := map[string]any{"inodeID": inodeID}
	if err := s.begin(ctx, "Readlink", meta); err != nil {
		return "", err
	}
	var target string
	err := s.with(inodeID, func(ino *filesystem.Inode) error {
		var err error
		target, err = s.fs.Readlink(ino)
		return err
	})
	if err != nil {
		return "", s.fail("Readlink", err, meta)
	}
	return target, nil
}

func (s *OnDiskPosixMetadataService) Link(ctx context.Context, inodeID, parentInodeID uint32, name string) (*pms.Attributes, error) {
	return s.create(ctx, "Link", parentInodeID, name, func(dir *filesystem.Inode) (*filesystem.Inode, error) {
		ino, err := s.fs.Iget(inodeID)
		if err != nil {
			return nil, err
		}
		if err := s.fs.Link(ino, dir, name); err != nil {
			s.fs.Iput(ino)
			return nil, err
		}
		return ino, nil
	})
}

// --- 6. REMOVE / RMDIR / RENAME ---

func (s *OnDiskPosixMetadataService) Remove(ctx context.Context, parentInodeID uint32, name string) error {
	meta := map[string]any{"parent": parentInodeID, "name": name}
	if err := s.begin(ctx, "Remove", meta); err != nil {
		return err
	}
	err := s.with(parentInodeID, func(dir *filesystem.Inode) error {
		return s.fs.Unlink(dir, name)
	})
	if err != nil {
		return s.fail("Remove", err, meta)
	}
	return nil
}

func (s *OnDiskPosixMetadataService) Rmdir(ctx context.Context, parentInodeID uint32, name string) error {
	meta := map[string]any{"parent": parentInodeID, "name": name}
	if err := s.begin(ctx, "Rmdir", meta); err != nil {
		return err
	}
	err := s.with(parentInodeID, func(dir *filesystem.Inode) error {
		return s.fs.Rmdir(dir, name)
	})
	if err != nil {
		return s.fail("Rmdir", err, meta)
	}
	return nil
}

func (s *OnDiskPosixMetadataService) Rename(ctx context.Context, srcParentID uint32, srcName string, dstParentID uint32, dstName string) error {
	meta := map[string]any{"srcParent": srcParentID, "srcName": srcName, "dstParent": dstParentID, "dstName": dstName}
	if err := s.begin(ctx, "Rename", meta); err != nil {
		return err
	}
	err := s.with(srcParentID, func(src *filesystem.Inode) error {
		return s.with(dstParentID, func(dst *filesystem.Inode) error {
			return s.fs.Rename(src, srcName, dst, dstName)
		})
	})
	if err != nil {
		return s.fail("Rename", err, meta)
	}
	return nil
}

// --- 7. READDIR ---

func (s *OnDiskPosixMetadataService) readDir(ctx context.Context, op string, inodeID uint32, cookie, maxEntries int) ([]filesystem.DirEntry, int, bool, error) {
	meta := map[string]any{"inodeID": inodeID, "cookie": cookie, "max": maxEntries}
	if err := s.begin(ctx, op, meta); err != nil {
		return nil, 0, false, err
	}
	var (
		entries []filesystem.DirEntry
		next    int64
		eof     bool
	)
	err := s.with(inodeID, func(dir *filesystem.Inode) error {
		var err error
		entries, next, eof, err = s.fs.ReadDir(dir, int64(cookie), maxEntries)
		return err
	})
	if err != nil {
		return nil, 0, false, s.fail(op, err, meta)
	}
	return entries, int(next), eof, nil
}

func (s *OnDiskPosixMetadataService) ReadDir(ctx context.Context, inodeID uint32, cookie int, maxEntries int) ([]pms.DirEntry, int, bool, error) {
	entries, next, eof, err := s.readDir(ctx, "ReadDir", inodeID, cookie, maxEntries)
	if err != nil {
		return nil, 0, false, err
	}
	out := make([]pms.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = pms.DirEntry{Name: e.Name, InodeID: e.Nid, Type: direntType(e.Type)}
	}
	return out, next, eof, nil
}

func (s *OnDiskPosixMetadataService) ReadDirPlus(ctx context.Context, inodeID uint32, cookie int, maxEntries int) ([]pms.DirEntryPlus, int, bool, error) {
	entries, next, eof, err := s.readDir(ctx, "ReadDirPlus", inodeID, cookie, maxEntries)
	if err != nil {
		return nil, 0, false, err
	}
	out := make([]pms.DirEntryPlus, 0, len(entries))
	for _, e := range entries {
		plus := pms.DirEntryPlus{Name: e.Name, InodeID: e.Nid, Type: direntType(e.Type)}
		err := s.with(e.Nid, func(ino *filesystem.Inode) error {
			plus.Inode = s.attrs(ino)
			return nil
		})
		if err != nil {
			// The entry may have been removed since the listing.
			s.ls.Warn(log_service.LogEvent{
				Message:  "ReadDirPlus skipped attributes",
				Metadata: map[string]any{"inodeID": e.Nid, "error": err.Error()},
			})
		}
		out = append(out, plus)
	}
	return out, next, eof, nil
}

// --- 8. XATTR ---

func (s *OnDiskPosixMetadataService) GetXattr(ctx context.Context, inodeID uint32, name string) ([]byte, error) {
	meta := map[string]any{"inodeID": inodeID, "name": name}
	if err := s.begin(ctx, "GetXattr", meta); err != nil {
		return nil, err
	}
	var value []byte
	err := s.with(inodeID, func(ino *filesystem.Inode) error {
		buf := make([]byte, disk.MaxXattrValue)
		n, err := s.fs.GetXattr(ino, name, buf)
		if err != nil {
			return err
		}
		value = buf[:n]
		return nil
	})
	if err != nil {
		return nil, s.fail("GetXattr", err, meta)
	}
	return value, nil
}

func (s *OnDiskPosixMetadataService) SetXattr(ctx context.Context, inodeID uint32, name string, value []byte, flags int) error {
	meta := map[string]any{"inodeID": inodeID, "name": name, "size": len(value), "flags": flags}
	if err := s.begin(ctx, "SetXattr", meta); err != nil {
		return err
	}
	err := s.with(inodeID, func(ino *filesystem.Inode) error {
		return s.fs.SetXattr(ino, name, value, flags)
	})
	if err != nil {
		return s.fail("SetXattr", err, meta)
	}
	return nil
}

func (s *OnDiskPosixMetadataService) ListXattr(ctx context.Context, inodeID uint32) ([]string, error) {
	meta := map[string]any{"inodeID": inodeID}
	if err := s.begin(ctx, "ListXattr", meta); err != nil {
		return nil, err
	}
	var names []string
	err := s.with(inodeID, func(ino *filesystem.Inode) error {
		var err error
		names, err = s.fs.ListXattr(ino)
		return err
	})
	if err != nil {
		return nil, s.fail("ListXattr", err, meta)
	}
	return names, nil
}

func (s *OnDiskPosixMetadataService) RemoveXattr(ctx context.Context, inodeID uint32, name string) error {
	meta := map[string]any{"inodeID": inodeID, "name": name}
	if err := s.begin(ctx, "RemoveXattr", meta); err != nil {
		return err
	}
	err := s.with(inodeID, func(ino *filesystem.Inode) error {
		return s.fs.RemoveXattr(ino, name)
	})
	if err != nil {
		return s.fail("RemoveXattr", err, meta)
	}
	return nil
}

// --- 9. FSSTAT / FSINFO ---

func (s *OnDiskPosixMetadataService) GetFsStat(ctx context.Context) (*pms.FileSystemStats, error) {
	if err := s.begin(ctx, "GetFsStat", nil); err != nil {
		return nil, err
	}
	st := s.fs.StatFS()
	return &pms.FileSystemStats{
		TotalSpace:  int64(st.Blocks) * st.BlockSize,
		UsedSpace:   int64(st.Blocks-st.FreeBlocks) * st.BlockSize,
		TotalInodes: int64(st.Inodes),
		UsedInodes:  int64(st.Inodes - st.FreeInodes),
		BlockSize:   st.BlockSize,
	}, nil
}

func (s *OnDiskPosixMetadataService) GetFsInfo(ctx context.Context) (*pms.FileSystemInfo, error) {
	if err := s.begin(ctx, "GetFsInfo", nil); err != nil {
		return nil, err
	}
	st := s.fs.StatFS()
	return &pms.FileSystemInfo{
		FsID:            st.UUID.String(),
		RootInodeID:     disk.RootNid,
		BlockSize:       st.BlockSize,
		MaxFileSize:     st.MaxFileSize,
		MaxFilenameSize: st.NameMax,
		MaxSymlinkSize:  disk.MaxSymlinkLen,
		CreatedAt:       st.CreatedAt,
	}, nil
}
