package mcpserver

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AnishMulay/numbfs/internal/config"
	"github.com/AnishMulay/numbfs/internal/log_service/console"
	"github.com/AnishMulay/numbfs/internal/volume"
)

func newTools(t *testing.T) *tools {
	t.Helper()
	cfg := config.Default()
	cfg.Image = filepath.Join(t.TempDir(), "disk.img")
	cfg.Geometry = config.Geometry{Inodes: 32, DataBlocks: 128}
	ls := console.Discard()
	if err := volume.Mkfs(cfg, ls); err != nil {
		t.Fatalf("Mkfs() error = %v", err)
	}
	vol, err := volume.Open(cfg, ls)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := vol.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return &tools{files: vol.Files, ls: ls}
}

func call(t *testing.T, handler toolHandler, name string, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("%s returned error = %v", name, err)
	}
	if len(result.Content) == 0 {
		return "", result.IsError
	}
	return result.Content[0].(mcp.TextContent).Text, result.IsError
}

func TestTools_WriteReadList(t *testing.T) {
	tl := newTools(t)

	if text, isErr := call(t, tl.makeDir, "make_dir", map[string]any{"path": "/docs"}); isErr {
		t.Fatalf("make_dir: %s", text)
	}
	if text, isErr := call(t, tl.writeFile, "write_file", map[string]any{"path": "/docs/a.txt", "content": "first version"}); isErr {
		t.Fatalf("write_file: %s", text)
	}
	if text, isErr := call(t, tl.writeFile, "write_file", map[string]any{"path": "/docs/a.txt", "content": "second"}); isErr {
		t.Fatalf("overwrite: %s", text)
	}

	text, isErr := call(t, tl.readFile, "read_file", map[string]any{"path": "/docs/a.txt"})
	if isErr || text != "second" {
		t.Errorf("read_file = %q (error %v), want %q", text, isErr, "second")
	}

	text, isErr = call(t, tl.listDir, "list_dir", map[string]any{"path": "/docs"})
	if isErr {
		t.Fatalf("list_dir: %s", text)
	}
	for _, want := range []string{".", "..", "a.txt"} {
		if !strings.Contains(text, want) {
			t.Errorf("list_dir output %q is missing %q", text, want)
		}
	}

	text, _ = call(t, tl.stat, "stat", map[string]any{"path": "/docs/a.txt"})
	if !strings.Contains(text, "size: 6") {
		t.Errorf("stat output %q does not report size 6", text)
	}
}

func TestTools_Remove(t *testing.T) {
	tl := newTools(t)
	call(t, tl.makeDir, "make_dir", map[string]any{"path": "/d"})
	call(t, tl.writeFile, "write_file", map[string]any{"path": "/d/f", "content": "x"})

	if text, isErr := call(t, tl.remove, "remove", map[string]any{"path": "/d"}); !isErr {
		t.Errorf("removing a non-empty directory succeeded: %s", text)
	}
	if text, isErr := call(t, tl.remove, "remove", map[string]any{"path": "/d/f"}); isErr {
		t.Fatalf("remove file: %s", text)
	}
	if text, isErr := call(t, tl.remove, "remove", map[string]any{"path": "/d"}); isErr {
		t.Fatalf("remove empty directory: %s", text)
	}
	if _, isErr := call(t, tl.stat, "stat", map[string]any{"path": "/d"}); !isErr {
		t.Error("stat of a removed directory succeeded")
	}
	if _, isErr := call(t, tl.remove, "remove", map[string]any{"path": "/"}); !isErr {
		t.Error("removing the root succeeded")
	}
}

func TestTools_Xattr(t *testing.T) {
	tl := newTools(t)
	call(t, tl.writeFile, "write_file", map[string]any{"path": "/f", "content": "x"})

	if text, isErr := call(t, tl.setXattr, "set_xattr", map[string]any{"path": "/f", "name": "user.tag", "value": "blue"}); isErr {
		t.Fatalf("set_xattr: %s", text)
	}
	if text, _ := call(t, tl.getXattr, "get_xattr", map[string]any{"path": "/f", "name": "user.tag"}); text != "blue" {
		t.Errorf("get_xattr = %q, want blue", text)
	}
	if text, _ := call(t, tl.getXattr, "get_xattr", map[string]any{"path": "/f"}); text != "user.tag" {
		t.Errorf("listing = %q, want user.tag", text)
	}
	if _, isErr := call(t, tl.setXattr, "set_xattr", map[string]any{"path": "/f", "name": "bogus.tag", "value": "v"}); !isErr {
		t.Error("set_xattr with an unknown namespace succeeded")
	}
}

func TestTools_MissingArguments(t *testing.T) {
	tl := newTools(t)
	tests := []struct {
		name    string
		handler toolHandler
		args    map[string]any
	}{
		{"read_file", tl.readFile, map[string]any{}},
		{"write_file", tl.writeFile, map[string]any{"path": "/f"}},
		{"set_xattr", tl.setXattr, map[string]any{"path": "/f"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, isErr := call(t, tt.handler, tt.name, tt.args); !isErr {
				t.Error("call without required arguments succeeded")
			}
		})
	}
}

func TestTools_FsInfo(t *testing.T) {
	tl := newTools(t)
	text, isErr := call(t, tl.fsInfo, "fs_info", nil)
	if isErr {
		t.Fatalf("fs_info: %s", text)
	}
	if !strings.Contains(text, "block size: 512") {
		t.Errorf("fs_info output %q does not report the block size", text)
	}
}
