package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/AnishMulay/numbfs/internal/block_device"
	"github.com/AnishMulay/numbfs/internal/disk"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RemoteBlockDevice is a BlockDevice whose blocks live behind a Server.
type RemoteBlockDevice struct {
	target  string
	conn    *grpc.ClientConn
	ls      log_service.LogService
	timeout time.Duration
	blocks  uint32
}

type Option func(*RemoteBlockDevice)

// WithTimeout bounds each remote call. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *RemoteBlockDevice) { r.timeout = d }
}

// Dial connects to target and asks the server for the device size.
func Dial(target string, ls log_service.LogService, opts ...Option) (*RemoteBlockDevice, error) {
	return dial(target, ls, opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// DialContextDialer is Dial over a custom transport, such as an in-process listener.
func DialContextDialer(target string, dialer func(context.Context, string) (net.Conn, error), ls log_service.LogService, opts ...Option) (*RemoteBlockDevice, error) {
	return dial(target, ls, opts,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer))
}

func dial(target string, ls log_service.LogService, opts []Option, dialOpts ...grpc.DialOption) (*RemoteBlockDevice, error) {
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Failed to create GRPC client",
			Metadata: map[string]any{"to": target, "error": err.Error()},
		})
		return nil, ErrClientCreateFailed
	}

	r := &RemoteBlockDevice{target: target, conn: conn, ls: ls}
	for _, opt := range opts {
		opt(r)
	}

	resp, err := r.call(Request{Op: OpInfo})
	if err != nil {
		conn.Close()
		return nil, err
	}
	r.blocks = resp.Blocks

	ls.Info(log_service.LogEvent{
		Message:  "Connected to block server",
		Metadata: map[string]any{"to": target, "blocks": r.blocks},
	})
	return r, nil
}

func (r *RemoteBlockDevice) call(req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out := new(wrapperspb.BytesValue)
	if err := r.conn.Invoke(ctx, callMethod, wrapperspb.Bytes(payload), out); err != nil {
		return nil, fromStatus(err)
	}

	var resp Response
	if err := json.Unmarshal(out.GetValue(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrRemoteCallFailed, err)
	}
	switch st.Code() {
	case codes.OutOfRange:
		return fmt.Errorf("%s: %w", st.Message(), fs_errors.ErrOutOfRange)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", st.Message(), fs_errors.ErrInvalidArgument)
	}
	return fmt.Errorf("%w: %s", ErrRemoteCallFailed, st.Message())
}

func (r *RemoteBlockDevice) ReadBlock(addr uint32, p []byte) error {
	if err := block_device.CheckAccess(addr, p, r.blocks); err != nil {
		return err
	}
	resp, err := r.call(Request{Op: OpRead, Addr: addr})
	if err != nil {
		return err
	}
	if len(resp.Data) != disk.BlockSize {
		return fmt.Errorf("%w: short block of %d bytes", ErrRemoteCallFailed, len(resp.Data))
	}
	copy(p, resp.Data)
	return nil
}

func (r *RemoteBlockDevice) WriteBlock(addr uint32, p []byte) error {
	if err := block_device.CheckAccess(addr, p, r.blocks); err != nil {
		return err
	}
	_, err := r.call(Request{Op: OpWrite, Addr: addr, Data: p})
	return err
}

func (r *RemoteBlockDevice) Flush() error {
	_, err := r.call(Request{Op: OpFlush})
	return err
}

func (r *RemoteBlockDevice) Blocks() uint32 {
	return r.blocks
}

func (r *RemoteBlockDevice) Close() error {
	return r.conn.Close()
}

var _ block_device.BlockDevice = (*RemoteBlockDevice)(nil)
