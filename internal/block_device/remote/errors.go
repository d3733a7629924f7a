package remote

import "errors"

var (
	ErrListenFailed       = errors.New("failed to listen on address")
	ErrClientCreateFailed = errors.New("failed to create block device client")
	ErrUnknownOp          = errors.New("unknown block device operation")
	ErrRemoteCallFailed   = errors.New("remote block device call failed")
)
