package branchfs

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// Error kinds reported by the engine. They are errno values so callers can
// test them with errors.Is against either the sentinel or the io/fs
// equivalents (fs.ErrNotExist, fs.ErrPermission), and kernel adapters can
// return them unchanged.
var (
	// ErrNotFound is returned when a path is absent from every branch or
	// masked by a whiteout
	ErrNotFound error = syscall.ENOENT
	// ErrPermission is returned when an entry only exists on a read-only
	// branch and cannot be promoted
	ErrPermission error = syscall.EACCES
	// ErrNameTooLong is returned when a composed real path exceeds MaxPathLen
	ErrNameTooLong error = syscall.ENAMETOOLONG
	// ErrCrossBranch is returned when two operands of a rename or link live
	// on different writable branches
	ErrCrossBranch error = syscall.EXDEV
	// ErrNotEmpty is returned when removing a directory that is not empty in
	// the merged view
	ErrNotEmpty error = syscall.ENOTEMPTY
	// ErrNotDir is returned when a directory operation targets a non-directory
	ErrNotDir error = syscall.ENOTDIR
	// ErrUnsupported is returned when promoting an entry type that cannot be
	// copied, such as a socket
	ErrUnsupported error = syscall.EOPNOTSUPP
	// ErrNoBranches is returned by New when no branch was configured
	ErrNoBranches = errors.New("no branches configured")
)

// pathError reports err against a virtual path. Host paths carried by
// *fs.PathError or *os.LinkError are replaced so callers never see branch
// roots.
func pathError(op, path string, err error) error {
	var pe *fs.PathError
	var le *os.LinkError
	switch {
	case errors.As(err, &pe):
		if pe.Path == path {
			return err
		}
		err = pe.Err
	case errors.As(err, &le):
		err = le.Err
	}
	return &fs.PathError{Op: op, Path: path, Err: err}
}

// isAbsent reports whether err from an lstat means "not present here"
// rather than a real failure.
func isAbsent(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ENOTDIR)
}
