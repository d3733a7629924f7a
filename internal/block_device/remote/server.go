package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/AnishMulay/numbfs/internal/block_device"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server exports a BlockDevice over gRPC.
type Server struct {
	listenAddress string
	dev           block_device.BlockDevice
	ls            log_service.LogService
	grpcServer    *grpc.Server

	stopMutex sync.Mutex
	stopped   bool
}

func NewServer(addr string, dev block_device.BlockDevice, ls log_service.LogService) *Server {
	s := &Server{
		listenAddress: addr,
		dev:           dev,
		ls:            ls,
		grpcServer:    grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&blockServiceDesc, s)
	return s
}

func (s *Server) Address() string {
	return s.listenAddress
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to listen on address",
			Metadata: map[string]any{"address": s.listenAddress, "error": err.Error()},
		})
		return ErrListenFailed
	}
	s.listenAddress = lis.Addr().String()
	return s.Serve(lis)
}

// Serve runs the gRPC server on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	s.ls.Info(log_service.LogEvent{
		Message:  "Block server started",
		Metadata: map[string]any{"address": lis.Addr().String(), "blocks": s.dev.Blocks()},
	})

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.ls.Error(log_service.LogEvent{
				Message:  "GRPC server error",
				Metadata: map[string]any{"address": s.listenAddress, "error": err.Error()},
			})
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.stopMutex.Lock()
	defer s.stopMutex.Unlock()

	if s.stopped {
		return nil
	}
	s.grpcServer.GracefulStop()
	s.stopped = true

	s.ls.Info(log_service.LogEvent{
		Message:  "Block server stopped",
		Metadata: map[string]any{"address": s.listenAddress},
	})
	return s.dev.Flush()
}

func (s *Server) Call(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var req Request
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	resp, err := s.handle(req)
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Block request failed",
			Metadata: map[string]any{"op": req.Op, "addr": req.Addr, "error": err.Error()},
		})
		return nil, toStatus(err)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return wrapperspb.Bytes(out), nil
}

func (s *Server) handle(req Request) (*Response, error) {
	switch req.Op {
	case OpRead:
		buf := make([]byte, disk.BlockSize)
		if err := s.dev.ReadBlock(req.Addr, buf); err != nil {
			return nil, err
		}
		return &Response{Data: buf}, nil
	case OpWrite:
		if err := s.dev.WriteBlock(req.Addr, req.Data); err != nil {
			return nil, err
		}
		return &Response{}, nil
	case OpFlush:
		return &Response{}, s.dev.Flush()
	case OpInfo:
		return &Response{Blocks: s.dev.Blocks()}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, fs_errors.ErrOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, fs_errors.ErrInvalidArgument), errors.Is(err, ErrUnknownOp):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
