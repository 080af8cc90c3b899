package cofs

import "fmt"

// Errno is one of the core's error kinds (spec §7). It is deliberately not
// the host's errno: the host dispatch layer maps Errno to whatever numeric
// convention it needs via (*Error).Negated.
type Errno int

const (
	// EIO: block-device read/write of an out-of-range block, or mapping failure.
	EIO Errno = iota + 1
	// ENOENT: path component not found during namei/lookup.
	ENOENT
	// ENOTDIR: intermediate path component is not a directory.
	ENOTDIR
	// EISDIR: a file-only operation targets a directory.
	EISDIR
	// ENOTEMPTY: rmdir on a directory with entries beyond . and ..
	ENOTEMPTY
	// ENAMETOOLONG: directory entry name exceeds BaseNameMax-1, or a
	// symlink target exceeds the inline capacity.
	ENAMETOOLONG
	// ENOSPC: i-list or free list exhausted.
	ENOSPC
	// EFBIG: requested write end-offset exceeds MaxFileSize.
	EFBIG
	// ENOMEM: in-core buffer allocation failed.
	ENOMEM
	// EFAULT: caller-supplied buffer is absent.
	EFAULT
	// EINVAL: operation not valid for the inode's type, e.g. readlink on
	// a non-symlink.
	EINVAL
)

func (e Errno) String() string {
	switch e {
	case EIO:
		return "IO"
	case ENOENT:
		return "NOENT"
	case ENOTDIR:
		return "NOTDIR"
	case EISDIR:
		return "ISDIR"
	case ENOTEMPTY:
		return "NOTEMPTY"
	case ENAMETOOLONG:
		return "NAMETOOLONG"
	case ENOSPC:
		return "NOSPC"
	case EFBIG:
		return "FBIG"
	case ENOMEM:
		return "NOMEM"
	case EFAULT:
		return "FAULT"
	case EINVAL:
		return "INVAL"
	default:
		return fmt.Sprintf("Errno(%d)", int(e))
	}
}

// Error wraps an Errno with the operation and context that produced it.
type Error struct {
	Op    string // operation name, e.g. "read", "namei", "alloc_new_datablock"
	Errno Errno
	Inum  uint64 // inode reference, if relevant; 0 if not
	Block uint64 // block reference, if relevant; 0 if not
	Path  string // path, if relevant
	Err   error  // wrapped underlying error, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("cofs: %s: %s", e.Op, e.Errno)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%q)", e.Path)
	}
	if e.Inum != 0 {
		msg += fmt.Sprintf(" (inum=%d)", e.Inum)
	}
	if e.Block != 0 {
		msg += fmt.Sprintf(" (block=%d)", e.Block)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so
// errors.Is(err, &Error{Errno: kind}) matches by kind. Errno itself is not
// an error and cannot be passed to errors.Is; callers compare kinds
// directly via errors.As + the Errno field for the common case.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Errno == t.Errno
}

// Negated returns the negative host-facing error code demanded by spec §7's
// propagation policy.
func (e *Error) Negated() int {
	return -int(e.Errno)
}

func newErr(op string, errno Errno) *Error {
	return &Error{Op: op, Errno: errno}
}

func wrapErr(op string, errno Errno, err error) *Error {
	return &Error{Op: op, Errno: errno, Err: err}
}
