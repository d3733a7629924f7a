package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	logservice "github.com/AnishMulay/numbfs/internal/log_service"
	pfs "github.com/AnishMulay/numbfs/internal/posix_file_service"
	pms "github.com/AnishMulay/numbfs/internal/posix_metadata_service"
)

const (
	serverName    = "numbfs"
	serverVersion = "0.1.0"
)

type toolHandler = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

type tools struct {
	files pfs.PosixFileService
	ls    logservice.LogService
}

// NewMCPServer exposes the volume behind files as MCP tools.
func NewMCPServer(files pfs.PosixFileService, ls logservice.LogService) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))
	t := &tools{files: files, ls: ls}
	t.register(s)
	return s
}

func (t *tools) register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("fs_info",
		mcp.WithDescription("Show volume geometry and usage"),
	), t.fsInfo)

	s.AddTool(mcp.NewTool("list_dir",
		mcp.WithDescription("List a directory"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory path, e.g. /docs")),
	), t.listDir)

	s.AddTool(mcp.NewTool("stat",
		mcp.WithDescription("Show the attributes of a file, directory or symlink"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path inside the volume")),
	), t.stat)

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a file as text"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path")),
	), t.readFile)

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Create or overwrite a file with the given text"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path")),
		mcp.WithString("content", mcp.Required(), mcp.Description("File contents")),
	), t.writeFile)

	s.AddTool(mcp.NewTool("make_dir",
		mcp.WithDescription("Create a directory"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory path")),
	), t.makeDir)

	s.AddTool(mcp.NewTool("remove",
		mcp.WithDescription("Remove a file, symlink or empty directory"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to remove")),
	), t.remove)

	s.AddTool(mcp.NewTool("get_xattr",
		mcp.WithDescription("Read an extended attribute, or list them when name is empty"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path inside the volume")),
		mcp.WithString("name", mcp.Description("Attribute name such as user.comment")),
	), t.getXattr)

	s.AddTool(mcp.NewTool("set_xattr",
		mcp.WithDescription("Set an extended attribute; an empty value removes it"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path inside the volume")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Attribute name such as user.comment")),
		mcp.WithString("value", mcp.Description("Attribute value")),
	), t.setXattr)
}

func (t *tools) failed(tool string, err error) *mcp.CallToolResult {
	t.ls.Error(logservice.LogEvent{
		Message:  "MCP tool failed",
		Metadata: map[string]any{"tool": tool, "error": err.Error()},
	})
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", tool, err))
}

func (t *tools) parent(ctx context.Context, p string) (uint32, string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return 0, "", fmt.Errorf("%q has no parent: %w", p, fs_errors.ErrInvalidArgument)
	}
	dir, name := path.Split(clean)
	nid, err := t.files.LookupPath(ctx, dir)
	return nid, name, err
}

func (t *tools) fsInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := t.files.GetFsInfo(ctx)
	if err != nil {
		return t.failed("fs_info", err), nil
	}
	st, err := t.files.GetFsStat(ctx)
	if err != nil {
		return t.failed("fs_info", err), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "uuid: %s\n", info.FsID)
	fmt.Fprintf(&b, "created: %s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "block size: %d\n", info.BlockSize)
	fmt.Fprintf(&b, "inodes: %d used of %d\n", st.UsedInodes, st.TotalInodes)
	fmt.Fprintf(&b, "space: %d bytes used of %d\n", st.UsedSpace, st.TotalSpace)
	fmt.Fprintf(&b, "max file size: %d, max name length: %d\n", info.MaxFileSize, info.MaxFilenameSize)
	return mcp.NewToolResultText(b.String()), nil
}

func (t *tools) listDir(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nid, err := t.files.LookupPath(ctx, p)
	if err != nil {
		return t.failed("list_dir", err), nil
	}
	entries, _, _, err := t.files.ReadDirPlus(ctx, nid, 0, 0)
	if err != nil {
		return t.failed("list_dir", err), nil
	}
	var b strings.Builder
	for _, e := range entries {
		if e.Inode == nil {
			fmt.Fprintf(&b, "%-9s %6s  %s\n", e.Type, "?", e.Name)
			continue
		}
		fmt.Fprintf(&b, "%-9s %6d  %s\n", e.Type, e.Inode.Size, e.Name)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func formatAttributes(p string, a *pms.Attributes) string {
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\n", p)
	fmt.Fprintf(&b, "inode: %d\n", a.InodeID)
	fmt.Fprintf(&b, "type: %s\n", a.Type)
	fmt.Fprintf(&b, "mode: %#o\n", a.Mode&disk.PermMask)
	fmt.Fprintf(&b, "links: %d\n", a.LinkCount)
	fmt.Fprintf(&b, "uid/gid: %d/%d\n", a.UID, a.GID)
	fmt.Fprintf(&b, "size: %d (%d blocks)\n", a.Size, a.Blocks)
	fmt.Fprintf(&b, "xattrs: %d\n", a.XattrCount)
	fmt.Fprintf(&b, "modified: %s\n", a.ModifyTime.Format("2006-01-02 15:04:05.000000000"))
	return b.String()
}

func (t *tools) stat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nid, err := t.files.LookupPath(ctx, p)
	if err != nil {
		return t.failed("stat", err), nil
	}
	attr, err := t.files.GetAttr(ctx, nid)
	if err != nil {
		return t.failed("stat", err), nil
	}
	return mcp.NewToolResultText(formatAttributes(p, attr)), nil
}

func (t *tools) readFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nid, err := t.files.LookupPath(ctx, p)
	if err != nil {
		return t.failed("read_file", err), nil
	}
	data, err := t.files.Read(ctx, nid, 0, disk.MaxFileSize)
	if err != nil {
		return t.failed("read_file", err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *tools) writeFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	nid, err := t.files.LookupPath(ctx, p)
	switch {
	case errors.Is(err, fs_errors.ErrNotFound):
		dir, name, perr := t.parent(ctx, p)
		if perr != nil {
			return t.failed("write_file", perr), nil
		}
		attr, cerr := t.files.Create(ctx, dir, name, 0o644, 0, 0)
		if cerr != nil {
			return t.failed("write_file", cerr), nil
		}
		nid = attr.InodeID
	case err != nil:
		return t.failed("write_file", err), nil
	default:
		if _, err := t.files.Truncate(ctx, nid, 0); err != nil {
			return t.failed("write_file", err), nil
		}
	}

	n, err := t.files.Write(ctx, nid, 0, []byte(content))
	if err != nil {
		return t.failed("write_file", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Wrote %d bytes to %s", n, p)), nil
}

func (t *tools) makeDir(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir, name, err := t.parent(ctx, p)
	if err != nil {
		return t.failed("make_dir", err), nil
	}
	attr, err := t.files.Mkdir(ctx, dir, name, 0o755, 0, 0)
	if err != nil {
		return t.failed("make_dir", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created directory %s (inode %d)", p, attr.InodeID)), nil
}

func (t *tools) remove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir, name, err := t.parent(ctx, p)
	if err != nil {
		return t.failed("remove", err), nil
	}
	err = t.files.Remove(ctx, dir, name)
	if errors.Is(err, fs_errors.ErrIsDirectory) {
		err = t.files.Rmdir(ctx, dir, name)
	}
	if err != nil {
		return t.failed("remove", err), nil
	}
	return mcp.NewToolResultText("Removed " + p), nil
}

func (t *tools) getXattr(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name := request.GetString("name", "")
	nid, err := t.files.LookupPath(ctx, p)
	if err != nil {
		return t.failed("get_xattr", err), nil
	}
	if name == "" {
		names, err := t.files.ListXattr(ctx, nid)
		if err != nil {
			return t.failed("get_xattr", err), nil
		}
		return mcp.NewToolResultText(strings.Join(names, "\n")), nil
	}
	value, err := t.files.GetXattr(ctx, nid, name)
	if err != nil {
		return t.failed("get_xattr", err), nil
	}
	return mcp.NewToolResultText(string(value)), nil
}

func (t *tools) setXattr(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value := request.GetString("value", "")
	nid, err := t.files.LookupPath(ctx, p)
	if err != nil {
		return t.failed("set_xattr", err), nil
	}
	if err := t.files.SetXattr(ctx, nid, name, []byte(value), 0); err != nil {
		return t.failed("set_xattr", err), nil
	}
	if value == "" {
		return mcp.NewToolResultText(fmt.Sprintf("Removed %s from %s", name, p)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Set %s on %s", name, p)), nil
}
