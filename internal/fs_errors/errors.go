package fs_errors

import (
	"errors"
	"syscall"
)

var (
	ErrNotFound              = errors.New("no such file or directory")
	ErrAlreadyExists         = errors.New("file exists")
	ErrNotEmpty              = errors.New("directory not empty")
	ErrNameTooLong           = errors.New("name too long")
	ErrPositionOutOfRange    = errors.New("position beyond direct block capacity")
	ErrRange                 = errors.New("attribute name or value out of range")
	ErrNoAttribute           = errors.New("no such attribute")
	ErrUnsupported           = errors.New("unsupported file type")
	ErrOutOfSpace            = errors.New("no space left in pool")
	ErrNoSpace               = errors.New("no free attribute slot")
	ErrCrossDevice           = errors.New("cross-device link")
	ErrOperationNotPermitted = errors.New("operation not permitted")
	ErrCorruptStructure      = errors.New("corrupt on-disk structure")
	ErrNotDirectory          = errors.New("not a directory")
	ErrIsDirectory           = errors.New("is a directory")
	ErrOutOfRange            = errors.New("address out of range")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrTooManyLinks          = errors.New("too many links")
	ErrPermissionDenied      = errors.New("permission denied")
)

var errnos = []struct {
	err   error
	errno syscall.Errno
}{
	{ErrNotFound, syscall.ENOENT},
	{ErrAlreadyExists, syscall.EEXIST},
	{ErrNotEmpty, syscall.ENOTEMPTY},
	{ErrNameTooLong, syscall.ENAMETOOLONG},
	{ErrPositionOutOfRange, syscall.EFBIG},
	{ErrRange, syscall.ERANGE},
	{ErrNoAttribute, syscall.ENODATA},
	{ErrUnsupported, syscall.EOPNOTSUPP},
	{ErrOutOfSpace, syscall.ENOSPC},
	{ErrNoSpace, syscall.ENOSPC},
	{ErrCrossDevice, syscall.EXDEV},
	{ErrOperationNotPermitted, syscall.EPERM},
	{ErrCorruptStructure, syscall.EUCLEAN},
	{ErrNotDirectory, syscall.ENOTDIR},
	{ErrIsDirectory, syscall.EISDIR},
	{ErrOutOfRange, syscall.EIO},
	{ErrInvalidArgument, syscall.EINVAL},
	{ErrTooManyLinks, syscall.EMLINK},
	{ErrPermissionDenied, syscall.EACCES},
}

// Errno maps an error chain onto the errno a process-facing layer would return.
// Errors outside this package map to EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	return syscall.EIO
}
