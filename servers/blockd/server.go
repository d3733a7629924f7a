package blockd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnishMulay/numbfs/internal/block_device"
	"github.com/AnishMulay/numbfs/internal/block_device/file"
	"github.com/AnishMulay/numbfs/internal/block_device/remote"
	"github.com/AnishMulay/numbfs/internal/config"
	logservice "github.com/AnishMulay/numbfs/internal/log_service"
	"github.com/AnishMulay/numbfs/internal/server"
	"github.com/AnishMulay/numbfs/internal/volume"
)

type Options struct {
	NodeID     string
	ListenAddr string
	Image      string
	LogDir     string
	LogLevel   string
}

type runnable interface {
	Run() error
}

type blockServer struct {
	server server.Server
	dev    block_device.BlockDevice
	ls     logservice.LogService
	logs   io.Closer
	stop   chan os.Signal
}

func (s *blockServer) Run() error {
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("%w: %w", server.ErrServerStartFailed, err)
	}
	s.ls.Info(logservice.LogEvent{
		Message:  "Serving image",
		Metadata: map[string]any{"address": s.server.Address(), "blocks": s.dev.Blocks()},
	})

	signal.Notify(s.stop, os.Interrupt, syscall.SIGTERM)
	<-s.stop
	signal.Stop(s.stop)
	return s.shutdown()
}

func (s *blockServer) shutdown() error {
	var errs []error
	if err := s.server.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", server.ErrServerStopFailed, err))
	}
	errs = append(errs, s.dev.Close(), s.logs.Close())
	return errors.Join(errs...)
}

// Build opens the image and wires it to a gRPC block server.
func Build(opts Options) (runnable, error) {
	// 1. Logging
	ls, logs, err := volume.NewLogService(config.Log{Dir: opts.LogDir, Level: opts.LogLevel, NodeID: opts.NodeID})
	if err != nil {
		return nil, err
	}

	// 2. Device
	dev, err := file.Open(opts.Image)
	if err != nil {
		logs.Close()
		return nil, err
	}

	// 3. Server
	srv := remote.NewServer(opts.ListenAddr, dev, ls)

	return &blockServer{server: srv, dev: dev, ls: ls, logs: logs, stop: make(chan os.Signal, 1)}, nil
}
