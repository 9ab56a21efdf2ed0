package shadowfs

import (
	"syscall"

	"bazil.org/fuse"

	"shadowfs.io/errors"
	"shadowfs.io/log"
)

// kindToErrno maps a structured Kind to the errno the multiplexer
// expects, extended with shadowfs's own kinds.
var kindToErrno = map[errors.Kind]syscall.Errno{
	errors.Invalid:        syscall.EINVAL,
	errors.Permission:     syscall.EACCES,
	errors.Syntax:         syscall.EINVAL,
	errors.IO:             syscall.EIO,
	errors.Exist:          syscall.EEXIST,
	errors.NotExist:       syscall.ENOENT,
	errors.IsDir:          syscall.EISDIR,
	errors.NotDir:         syscall.ENOTDIR,
	errors.NotEmpty:       syscall.ENOTEMPTY,
	errors.NameTooLong:    syscall.ENAMETOOLONG,
	errors.KeyUnavailable: syscall.EIO,
	errors.CryptoFailed:   syscall.EIO,
}

// errnoError wraps a syscall.Errno so it can be returned from a FUSE
// callback as an error while still satisfying fuse.ErrorNumber.
type errnoError struct {
	errno syscall.Errno
	err   error
}

func (e *errnoError) Error() string {
	return e.err.Error()
}

func (e *errnoError) Errno() fuse.Errno {
	return fuse.Errno(e.errno)
}

// e2e converts any error raised by the non-FUSE-facing packages
// (pathtr, cryptogw, keyservice, filepair) or returned directly from a
// backing-store syscall into a fuse error. A *errors.Error consults
// kindToErrno; a bare *os.SyscallError or syscall.Errno is unwrapped
// directly; anything else becomes EIO.
func e2e(err error) error {
	if err == nil {
		return nil
	}
	errno := syscall.EIO
	if ue, ok := err.(*errors.Error); ok {
		if e, ok := kindToErrno[ue.Kind]; ok {
			errno = e
		} else if sysErrno, ok := underlyingErrno(ue.Err); ok {
			errno = sysErrno
		}
	} else if sysErrno, ok := underlyingErrno(err); ok {
		errno = sysErrno
	}
	log.Debug.Println(err.Error())
	return &errnoError{errno: errno, err: err}
}

// underlyingErrno unwraps a raw syscall.Errno, possibly nested inside an
// *os.PathError or *os.LinkError from the os package.
func underlyingErrno(err error) (syscall.Errno, bool) {
	switch e := err.(type) {
	case syscall.Errno:
		return e, true
	case interface{ Unwrap() error }:
		return underlyingErrno(e.Unwrap())
	default:
		return 0, false
	}
}

func einval(op, msg string) error { return e2e(errors.E(op, errors.Invalid, errors.Str(msg))) }
func enotsup(op string) error {
	return &errnoError{errno: syscall.ENOTSUP, err: errors.E(op, errors.Str("not supported"))}
}
