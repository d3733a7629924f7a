package mcpserver

import (
	"path/filepath"
	"testing"

	"github.com/AnishMulay/numbfs/internal/config"
	"github.com/AnishMulay/numbfs/internal/log_service/console"
	"github.com/AnishMulay/numbfs/internal/volume"
)

func TestBuild(t *testing.T) {
	cfg := config.Default()
	cfg.Image = filepath.Join(t.TempDir(), "disk.img")
	cfg.Geometry = config.Geometry{Inodes: 16, DataBlocks: 32}
	cfg.Log.Dir = t.TempDir()
	if err := volume.Mkfs(cfg, console.Discard()); err != nil {
		t.Fatalf("Mkfs() error = %v", err)
	}

	r, err := Build(Options{Config: cfg})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	s := r.(*stdioServer)
	if s.mcp == nil {
		t.Fatal("Build() returned no MCP server")
	}
	if err := s.close(); err != nil {
		t.Errorf("close() error = %v", err)
	}
}

func TestBuild_Unformatted(t *testing.T) {
	cfg := config.Default()
	cfg.Image = filepath.Join(t.TempDir(), "missing.img")
	cfg.Log.Dir = t.TempDir()
	if _, err := Build(Options{Config: cfg}); err == nil {
		t.Error("Build() on a missing image succeeded")
	}
}
