package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/xattr"

	"github.com/AnishMulay/numbfs/internal/fs_errors"
)

type harness struct {
	t     *testing.T
	image string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("NUMBFS_CONFIG_FILE", "")
	h := &harness{t: t, image: filepath.Join(t.TempDir(), "vol.img")}
	h.must("mkfs", "--inodes", "32", "--blocks", "128")
	return h
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"numbfs", "--image", h.image, "--log-level", "error"}, args...))
	return out.String(), err
}

func (h *harness) must(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("numbfs %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestCLI_FileLifecycle(t *testing.T) {
	h := newHarness(t)

	src := filepath.Join(t.TempDir(), "src.txt")
	if err := os.WriteFile(src, []byte("hello volume"), 0o644); err != nil {
		t.Fatal(err)
	}

	h.must("mkdir", "/docs")
	h.must("write", "--input", src, "/docs/a.txt")
	if got := h.must("cat", "/docs/a.txt"); got != "hello volume" {
		t.Errorf("cat = %q, want %q", got, "hello volume")
	}

	h.must("mv", "/docs/a.txt", "/b.txt")
	h.must("ln", "/b.txt", "/docs/c.txt")
	h.must("symlink", "docs/c.txt", "/link")
	if got := h.must("readlink", "/link"); got != "docs/c.txt\n" {
		t.Errorf("readlink = %q", got)
	}

	listing := h.must("ls", "/")
	for _, want := range []string{"b.txt", "docs", "link"} {
		if !strings.Contains(listing, want) {
			t.Errorf("ls / = %q, missing %s", listing, want)
		}
	}
	if !strings.Contains(h.must("stat", "/b.txt"), "Links: 2") {
		t.Error("stat of a hard-linked file does not show two links")
	}

	h.must("truncate", "/b.txt", "5")
	if got := h.must("cat", "/docs/c.txt"); got != "hello" {
		t.Errorf("cat after truncate = %q, want hello", got)
	}

	h.must("setfattr", "/b.txt", "user.color", "red")
	if got := h.must("getfattr", "/b.txt"); got != "user.color=\"red\"\n" {
		t.Errorf("getfattr = %q", got)
	}
	h.must("setfattr", "-x", "/b.txt", "user.color")

	h.must("rm", "/b.txt")
	h.must("rm", "/docs/c.txt")
	h.must("rm", "/link")
	h.must("rmdir", "/docs")
	if !strings.Contains(h.must("fsck"), "clean") {
		t.Error("fsck did not report a clean volume")
	}
}

func TestCLI_Errors(t *testing.T) {
	h := newHarness(t)
	h.must("touch", "/f")

	tests := []struct {
		name    string
		args    []string
		errorIs error
	}{
		{name: "cat missing", args: []string{"cat", "/nope"}, errorIs: fs_errors.ErrNotFound},
		{name: "rmdir file", args: []string{"rmdir", "/f"}, errorIs: fs_errors.ErrNotDirectory},
		{name: "mkdir existing", args: []string{"mkdir", "/f"}, errorIs: fs_errors.ErrAlreadyExists},
		{name: "truncate past limit", args: []string{"truncate", "/f", "5121"}, errorIs: fs_errors.ErrPositionOutOfRange},
		{name: "bad size", args: []string{"truncate", "/f", "big"}, errorIs: fs_errors.ErrInvalidArgument},
		{name: "missing args", args: []string{"mv", "/f"}, errorIs: fs_errors.ErrInvalidArgument},
		{name: "setfattr without value", args: []string{"setfattr", "/f", "user.a"}, errorIs: fs_errors.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			if !errors.Is(err, tt.errorIs) {
				t.Errorf("error = %v, want %v", err, tt.errorIs)
			}
		})
	}
}

func TestCLI_Info(t *testing.T) {
	h := newHarness(t)
	out := h.must("info")
	for _, want := range []string{"block size:   512", "inodes:       32 (31 free)"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output %q is missing %q", out, want)
		}
	}
}

func TestCLI_Import(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(t.TempDir(), "host.txt")
	if err := os.WriteFile(src, []byte("from the host"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := xattr.LSet(src, "user.origin", []byte("host")); err != nil {
		t.Skipf("host filesystem lacks user xattrs: %v", err)
	}

	h.must("import", src, "/imported")
	if got := h.must("cat", "/imported"); got != "from the host" {
		t.Errorf("cat = %q", got)
	}
	if got := h.must("getfattr", "/imported", "user.origin"); got != "user.origin=\"host\"\n" {
		t.Errorf("getfattr = %q", got)
	}
	if !strings.Contains(h.must("stat", "/imported"), "0600") {
		t.Error("import did not keep the host permission bits")
	}
}
