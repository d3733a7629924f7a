package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/xattr"
	"github.com/urfave/cli/v2"

	"github.com/AnishMulay/numbfs/internal/config"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"
	pfs "github.com/AnishMulay/numbfs/internal/posix_file_service"
	pms "github.com/AnishMulay/numbfs/internal/posix_metadata_service"
	"github.com/AnishMulay/numbfs/internal/volume"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("image") {
		cfg.Image, cfg.Remote = c.String("image"), ""
	}
	if c.IsSet("remote") {
		cfg.Remote, cfg.Image = c.String("remote"), ""
	}
	cfg.Log.Level = strings.ToUpper(c.String("log-level"))
	return cfg, cfg.Validate()
}

// withVolume mounts the configured volume for the duration of fn.
func withVolume(c *cli.Context, fn func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ls, logs, err := volume.NewLogService(cfg.Log)
	if err != nil {
		return err
	}
	defer logs.Close()

	v, err := volume.Open(cfg, ls)
	if err != nil {
		return err
	}
	err = fn(c.Context, v.Files, v)
	if cerr := v.Close(); cerr != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Failed to close volume",
			Metadata: map[string]any{"error": cerr.Error()},
		})
		err = errors.Join(err, cerr)
	}
	return err
}

func args(c *cli.Context, lo, hi int) ([]string, error) {
	n := c.Args().Len()
	if n < lo || n > hi {
		return nil, fmt.Errorf("%s: expected %s: %w", c.Command.Name, c.Command.ArgsUsage, fs_errors.ErrInvalidArgument)
	}
	return c.Args().Slice(), nil
}

func splitPath(ctx context.Context, files pfs.PosixFileService, p string) (uint32, string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return 0, "", fmt.Errorf("%q has no parent: %w", p, fs_errors.ErrInvalidArgument)
	}
	dir, name := path.Split(clean)
	parent, err := files.LookupPath(ctx, dir)
	return parent, name, err
}

func mkfsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("inodes") {
		cfg.Geometry.Inodes = uint32(c.Uint("inodes"))
	}
	if c.IsSet("blocks") {
		cfg.Geometry.DataBlocks = uint32(c.Uint("blocks"))
	}
	ls, logs, err := volume.NewLogService(cfg.Log)
	if err != nil {
		return err
	}
	defer logs.Close()

	if err := volume.Mkfs(cfg, ls); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "formatted with %d inodes and %d data blocks\n", cfg.Geometry.Inodes, cfg.Geometry.DataBlocks)
	return nil
}

func infoAction(c *cli.Context) error {
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		st := v.FS.StatFS()
		w := c.App.Writer
		fmt.Fprintf(w, "uuid:         %s\n", st.UUID)
		fmt.Fprintf(w, "created:      %s\n", st.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "block size:   %d\n", st.BlockSize)
		fmt.Fprintf(w, "data blocks:  %d (%d free)\n", st.Blocks, st.FreeBlocks)
		fmt.Fprintf(w, "inodes:       %d (%d free)\n", st.Inodes, st.FreeInodes)
		fmt.Fprintf(w, "max name:     %d\n", st.NameMax)
		fmt.Fprintf(w, "max filesize: %d\n", st.MaxFileSize)
		return nil
	})
}

func fsckAction(c *cli.Context) error {
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		r, err := v.FS.Check()
		if err != nil {
			return err
		}
		w := c.App.Writer
		fmt.Fprintf(w, "inodes: %d allocated in bitmap, %d by counter\n", r.InodesInBitmap, r.InodesInCounter)
		fmt.Fprintf(w, "blocks: %d allocated in bitmap, %d by counter\n", r.BlocksInBitmap, r.BlocksInCounter)
		if !r.Consistent() {
			return fmt.Errorf("allocation counters disagree with bitmaps: %w", fs_errors.ErrCorruptStructure)
		}
		fmt.Fprintln(w, "clean")
		return nil
	})
}

func typeChar(t pms.InodeType) byte {
	switch t {
	case pms.TypeDirectory:
		return 'd'
	case pms.TypeSymlink:
		return 'l'
	}
	return '-'
}

func modeString(a *pms.Attributes) string {
	const rwx = "rwxrwxrwx"
	b := []byte{typeChar(a.Type)}
	for i := 0; i < 9; i++ {
		if a.Mode&(1<<(8-i)) != 0 {
			b = append(b, rwx[i])
		} else {
			b = append(b, '-')
		}
	}
	return string(b)
}

func lsAction(c *cli.Context) error {
	a, err := args(c, 0, 1)
	if err != nil {
		return err
	}
	p := "/"
	if len(a) == 1 {
		p = a[0]
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := files.LookupPath(ctx, p)
		if err != nil {
			return err
		}
		entries, _, _, err := files.ReadDirPlus(ctx, nid, 0, 0)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Inode == nil {
				fmt.Fprintf(c.App.Writer, "?????????? %5s %8s %s\n", "?", "?", e.Name)
				continue
			}
			fmt.Fprintf(c.App.Writer, "%s %5d %8d %s\n", modeString(e.Inode), e.Inode.LinkCount, e.Inode.Size, e.Name)
		}
		return nil
	})
}

func statAction(c *cli.Context) error {
	a, err := args(c, 1, 1)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := files.LookupPath(ctx, a[0])
		if err != nil {
			return err
		}
		attr, err := files.GetAttr(ctx, nid)
		if err != nil {
			return err
		}
		w := c.App.Writer
		fmt.Fprintf(w, "  File: %s\n", a[0])
		fmt.Fprintf(w, "  Size: %-10d Blocks: %-6d %s\n", attr.Size, attr.Blocks, attr.Type)
		fmt.Fprintf(w, " Inode: %-10d Links: %d\n", attr.InodeID, attr.LinkCount)
		fmt.Fprintf(w, "Access: (%04o/%s)  Uid: %d  Gid: %d\n", attr.Mode&disk.PermMask, modeString(attr), attr.UID, attr.GID)
		fmt.Fprintf(w, "Xattrs: %d\n", attr.XattrCount)
		fmt.Fprintf(w, "Access: %s\n", attr.AccessTime.Format(time.RFC3339Nano))
		fmt.Fprintf(w, "Modify: %s\n", attr.ModifyTime.Format(time.RFC3339Nano))
		fmt.Fprintf(w, "Change: %s\n", attr.ChangeTime.Format(time.RFC3339Nano))
		return nil
	})
}

func mkdirAction(c *cli.Context) error {
	a, err := args(c, 1, 1)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		parent, name, err := splitPath(ctx, files, a[0])
		if err != nil {
			return err
		}
		_, err = files.Mkdir(ctx, parent, name, uint32(c.Uint("mode")), uint32(os.Getuid()), uint32(os.Getgid()))
		return err
	})
}

func touchAction(c *cli.Context) error {
	a, err := args(c, 1, 1)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := files.LookupPath(ctx, a[0])
		if errors.Is(err, fs_errors.ErrNotFound) {
			parent, name, err := splitPath(ctx, files, a[0])
			if err != nil {
				return err
			}
			_, err = files.Create(ctx, parent, name, uint32(c.Uint("mode")), uint32(os.Getuid()), uint32(os.Getgid()))
			return err
		}
		if err != nil {
			return err
		}
		now := time.Now().UnixNano()
		_, err = files.SetAttr(ctx, nid, nil, nil, nil, &now, &now)
		return err
	})
}

// openOrCreate returns the inode at p, creating an empty regular file when it is missing.
func openOrCreate(ctx context.Context, files pfs.PosixFileService, p string, mode uint32) (uint32, error) {
	nid, err := files.LookupPath(ctx, p)
	if !errors.Is(err, fs_errors.ErrNotFound) {
		return nid, err
	}
	parent, name, err := splitPath(ctx, files, p)
	if err != nil {
		return 0, err
	}
	attr, err := files.Create(ctx, parent, name, mode, uint32(os.Getuid()), uint32(os.Getgid()))
	if err != nil {
		return 0, err
	}
	return attr.InodeID, nil
}

func writeAction(c *cli.Context) error {
	a, err := args(c, 1, 1)
	if err != nil {
		return err
	}
	var src io.Reader = os.Stdin
	if in := c.String("input"); in != "" {
		f, err := os.Open(in)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}
	data, err := io.ReadAll(io.LimitReader(src, disk.MaxFileSize+1))
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := openOrCreate(ctx, files, a[0], 0o644)
		if err != nil {
			return err
		}
		n, err := files.Write(ctx, nid, c.Int64("offset"), data)
		fmt.Fprintf(c.App.Writer, "wrote %d bytes\n", n)
		return err
	})
}

func catAction(c *cli.Context) error {
	a, err := args(c, 1, 1)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := files.LookupPath(ctx, a[0])
		if err != nil {
			return err
		}
		data, err := files.Read(ctx, nid, 0, disk.MaxFileSize)
		if err != nil {
			return err
		}
		_, err = c.App.Writer.Write(data)
		return err
	})
}

func rmAction(c *cli.Context) error {
	a, err := args(c, 1, 1)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		parent, name, err := splitPath(ctx, files, a[0])
		if err != nil {
			return err
		}
		return files.Remove(ctx, parent, name)
	})
}

func rmdirAction(c *cli.Context) error {
	a, err := args(c, 1, 1)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		parent, name, err := splitPath(ctx, files, a[0])
		if err != nil {
			return err
		}
		return files.Rmdir(ctx, parent, name)
	})
}

func mvAction(c *cli.Context) error {
	a, err := args(c, 2, 2)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		src, srcName, err := splitPath(ctx, files, a[0])
		if err != nil {
			return err
		}
		dst, dstName, err := splitPath(ctx, files, a[1])
		if err != nil {
			return err
		}
		return files.Rename(ctx, src, srcName, dst, dstName)
	})
}

func lnAction(c *cli.Context) error {
	a, err := args(c, 2, 2)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		target, err := files.LookupPath(ctx, a[0])
		if err != nil {
			return err
		}
		parent, name, err := splitPath(ctx, files, a[1])
		if err != nil {
			return err
		}
		_, err = files.Link(ctx, target, parent, name)
		return err
	})
}

func symlinkAction(c *cli.Context) error {
	a, err := args(c, 2, 2)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		parent, name, err := splitPath(ctx, files, a[1])
		if err != nil {
			return err
		}
		_, err = files.Symlink(ctx, parent, name, a[0], uint32(os.Getuid()), uint32(os.Getgid()))
		return err
	})
}

func readlinkAction(c *cli.Context) error {
	a, err := args(c, 1, 1)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := files.LookupPath(ctx, a[0])
		if err != nil {
			return err
		}
		target, err := files.Readlink(ctx, nid)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, target)
		return nil
	})
}

func truncateAction(c *cli.Context) error {
	a, err := args(c, 2, 2)
	if err != nil {
		return err
	}
	size, err := strconv.ParseInt(a[1], 10, 64)
	if err != nil {
		return fmt.Errorf("size %q: %w", a[1], fs_errors.ErrInvalidArgument)
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := files.LookupPath(ctx, a[0])
		if err != nil {
			return err
		}
		_, err = files.Truncate(ctx, nid, size)
		return err
	})
}

func getfattrAction(c *cli.Context) error {
	a, err := args(c, 1, 2)
	if err != nil {
		return err
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := files.LookupPath(ctx, a[0])
		if err != nil {
			return err
		}
		if len(a) == 2 {
			value, err := files.GetXattr(ctx, nid, a[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s=%q\n", a[1], value)
			return nil
		}
		names, err := files.ListXattr(ctx, nid)
		if err != nil {
			return err
		}
		for _, name := range names {
			value, err := files.GetXattr(ctx, nid, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s=%q\n", name, value)
		}
		return nil
	})
}

func setfattrAction(c *cli.Context) error {
	a, err := args(c, 2, 3)
	if err != nil {
		return err
	}
	remove := c.Bool("remove")
	if !remove && len(a) != 3 {
		return fmt.Errorf("setfattr: VALUE is required without --remove: %w", fs_errors.ErrInvalidArgument)
	}
	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := files.LookupPath(ctx, a[0])
		if err != nil {
			return err
		}
		if remove {
			return files.RemoveXattr(ctx, nid, a[1])
		}
		return files.SetXattr(ctx, nid, a[1], []byte(a[2]), 0)
	})
}

// importAction copies a host file's contents and its user namespace
// attributes. Attributes in other namespaces are skipped.
func importAction(c *cli.Context) error {
	a, err := args(c, 2, 2)
	if err != nil {
		return err
	}
	host := a[0]
	info, err := os.Stat(host)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file: %w", host, fs_errors.ErrUnsupported)
	}
	if info.Size() > disk.MaxFileSize {
		return fmt.Errorf("%s has %d bytes: %w", host, info.Size(), fs_errors.ErrPositionOutOfRange)
	}
	data, err := os.ReadFile(host)
	if err != nil {
		return err
	}

	names, err := xattr.LList(host)
	if err != nil && !errors.Is(err, xattr.ENOATTR) {
		return fmt.Errorf("listing attributes of %s: %w", host, err)
	}
	attrs := make(map[string][]byte)
	for _, name := range names {
		if !strings.HasPrefix(name, "user.") {
			continue
		}
		value, err := xattr.LGet(host, name)
		if err != nil {
			return fmt.Errorf("reading %s of %s: %w", name, host, err)
		}
		attrs[name] = value
	}

	return withVolume(c, func(ctx context.Context, files pfs.PosixFileService, v *volume.Volume) error {
		nid, err := openOrCreate(ctx, files, a[1], uint32(info.Mode().Perm()))
		if err != nil {
			return err
		}
		if _, err := files.Truncate(ctx, nid, 0); err != nil {
			return err
		}
		if _, err := files.Write(ctx, nid, 0, data); err != nil {
			return err
		}
		for name, value := range attrs {
			if len(value) == 0 {
				continue
			}
			if err := files.SetXattr(ctx, nid, name, value, 0); err != nil {
				return fmt.Errorf("copying %s: %w", name, err)
			}
		}
		fmt.Fprintf(c.App.Writer, "imported %d bytes and %d attributes\n", len(data), len(attrs))
		return nil
	})
}
