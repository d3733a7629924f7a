package mcpserver

import (
	"errors"
	"io"

	"github.com/mark3labs/mcp-go/server"

	"github.com/AnishMulay/numbfs/internal/config"
	logservice "github.com/AnishMulay/numbfs/internal/log_service"
	"github.com/AnishMulay/numbfs/internal/volume"
)

type Options struct {
	Config *config.Config
}

type runnable interface {
	Run() error
}

type stdioServer struct {
	mcp  *server.MCPServer
	vol  *volume.Volume
	ls   logservice.LogService
	logs io.Closer
}

// Run serves tools over stdin/stdout until the client disconnects, then
// unmounts the volume.
func (s *stdioServer) Run() error {
	s.ls.Info(logservice.LogEvent{
		Message:  "Serving volume over MCP stdio",
		Metadata: map[string]any{"uuid": s.vol.FS.UUID().String()},
	})
	err := server.ServeStdio(s.mcp)
	if err != nil {
		s.ls.Error(logservice.LogEvent{
			Message:  "MCP server stopped",
			Metadata: map[string]any{"error": err.Error()},
		})
	}
	return errors.Join(err, s.close())
}

func (s *stdioServer) close() error {
	return errors.Join(s.vol.Close(), s.logs.Close())
}

func Build(opts Options) (runnable, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	ls, logs, err := volume.NewLogService(cfg.Log)
	if err != nil {
		return nil, err
	}
	vol, err := volume.Open(cfg, ls)
	if err != nil {
		logs.Close()
		return nil, err
	}
	return &stdioServer{
		mcp:  NewMCPServer(vol.Files, ls),
		vol:  vol,
		ls:   ls,
		logs: logs,
	}, nil
}
