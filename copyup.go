package branchfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/absfs/branchfs/internal/logger"
)

const (
	privilegedBits = unix.S_ISUID | unix.S_ISGID | unix.S_ISVTX
	permBits       = 07777

	copyTempPattern = ".branchfs-copy-*"
)

// CowRequest describes one promotion of Path from branch Source to branch
// Dest. Recurse asks for a deep copy of directories.
type CowRequest struct {
	Source  int
	Dest    int
	Path    string
	Recurse bool
}

// entryKind names the file type of a raw mode for logs and metrics.
func entryKind(mode uint32) string {
	switch mode & unix.S_IFMT {
	case unix.S_IFLNK:
		return "symlink"
	case unix.S_IFDIR:
		return "dir"
	case unix.S_IFBLK, unix.S_IFCHR:
		return "device"
	case unix.S_IFIFO:
		return "fifo"
	case unix.S_IFSOCK:
		return "socket"
	default:
		return "file"
	}
}

// promote copies one entry to the destination branch, creating its parent
// directories there first. A failed deep copy is not rolled back.
func (f *FS) promote(caller Caller, req CowRequest) (err error) {
	start := time.Now()
	kind := "unknown"
	defer func() {
		f.metrics.ObservePromotion(kind, time.Since(start), err)
	}()

	from, err := f.branches.realPath(req.Source, req.Path)
	if err != nil {
		return err
	}
	to, err := f.branches.realPath(req.Dest, req.Path)
	if err != nil {
		return err
	}

	var st unix.Stat_t
	if err := unix.Lstat(from, &st); err != nil {
		return pathError("lstat", req.Path, err)
	}
	kind = entryKind(st.Mode)

	if st.Mode&unix.S_IFMT == unix.S_IFSOCK {
		logger.Warn("copy-on-write of sockets not supported: %s", req.Path)
		return pathError("promote", req.Path, ErrUnsupported)
	}

	if err := f.pathCreate(caller, path.Dir(req.Path), req.Source, req.Dest); err != nil {
		return err
	}

	logger.Debug("promote %s %s from branch %d to branch %d", kind, req.Path, req.Source, req.Dest)

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFLNK:
		err = copyLink(from, to, &st)
	case unix.S_IFDIR:
		err = f.pathCreate(caller, req.Path, req.Source, req.Dest)
		if err == nil && req.Recurse {
			err = f.promoteChildren(caller, req.Path, req.Dest)
		}
	case unix.S_IFBLK, unix.S_IFCHR:
		err = copySpecial(from, to, &st)
	case unix.S_IFIFO:
		err = copyFifo(from, to, &st)
	default:
		err = f.copyFile(caller, from, to, &st)
	}
	if err != nil {
		logger.Warn("promoting %s failed: %v", req.Path, err)
		return pathError("promote", req.Path, err)
	}
	return nil
}

// promoteChildren materializes every entry visible under directory p on
// branch dest, descending into subdirectories.
func (f *FS) promoteChildren(caller Caller, p string, dest int) error {
	names, err := f.List(p)
	if err != nil {
		return err
	}
	for _, name := range names {
		child := path.Join(p, name)
		r, info, err := f.lookup(child)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if r.Branch == dest {
			if info.IsDir() {
				if err := f.promoteChildren(caller, child, dest); err != nil {
					return err
				}
			}
			continue
		}
		req := CowRequest{Source: r.Branch, Dest: dest, Path: child, Recurse: true}
		if err := f.promote(caller, req); err != nil {
			return err
		}
	}
	return nil
}

// pathCreate makes every level of directory p exist on branch dst. Levels
// that exist on src are created with its mode, owner and timestamps; the
// rest are synthetic directories owned by the caller.
func (f *FS) pathCreate(caller Caller, p string, src, dst int) error {
	for _, level := range prefixes(p) {
		to, err := f.branches.realPath(dst, level)
		if err != nil {
			return err
		}
		if _, err := os.Lstat(to); err == nil {
			continue
		}

		if src != dst {
			from, err := f.branches.realPath(src, level)
			if err != nil {
				return err
			}
			var st unix.Stat_t
			err = unix.Stat(from, &st)
			if err == nil && st.Mode&unix.S_IFMT == unix.S_IFDIR {
				if err := unix.Mkdir(to, st.Mode&permBits); err != nil && !errors.Is(err, unix.EEXIST) {
					logger.Error("creating %s failed: %v", to, err)
					return pathError("mkdir", level, err)
				}
				if err := setMetadata(to, &st); err != nil {
					return pathError("mkdir", level, err)
				}
				continue
			}
			if err != nil && !isAbsent(err) {
				return pathError("stat", level, err)
			}
		}

		if err := f.mkdirSynthetic(caller, to, 0777); err != nil && !errors.Is(err, os.ErrExist) {
			return pathError("mkdir", level, err)
		}
	}
	return nil
}

// mkdirSynthetic creates a directory that has no source: mode comes from
// perm and the caller's umask, ownership from the caller.
func (f *FS) mkdirSynthetic(caller Caller, real string, perm uint32) error {
	mode := perm & permBits &^ caller.Umask
	if err := unix.Mkdir(real, mode); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return os.ErrExist
		}
		return err
	}
	if err := unix.Chmod(real, mode); err != nil {
		return err
	}
	setOwner(caller, real)
	return nil
}

// setOwner hands a freshly created entry to the caller unless the caller is
// the process itself or has uid or gid 0. A failed chown leaves the entry
// owned by the process.
func setOwner(caller Caller, real string) {
	if caller.isProcess() || caller.UID == 0 || caller.GID == 0 {
		return
	}
	if err := unix.Lchown(real, int(caller.UID), int(caller.GID)); err != nil {
		logger.Warn("setting owner of %s failed: %v", real, err)
	}
}

// setMetadata copies timestamps, ownership and mode onto p. Ownership is
// best-effort: without the privilege to chown, the setuid, setgid and sticky
// bits are dropped instead of failing.
func setMetadata(p string, st *unix.Stat_t) error {
	mode := st.Mode & permBits

	times := []unix.Timespec{st.Atim, st.Mtim}
	if err := unix.UtimesNano(p, times); err != nil {
		return fmt.Errorf("utimes: %w", err)
	}
	if err := unix.Chown(p, int(st.Uid), int(st.Gid)); err != nil {
		if !errors.Is(err, unix.EPERM) {
			return fmt.Errorf("chown: %w", err)
		}
		mode &^= privilegedBits
	}
	if err := unix.Chmod(p, mode); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return nil
}

// copyFile streams a regular file into a temporary name next to to and
// renames it into place once content and metadata are complete, so a failed
// copy never leaves a partial file behind. The copy is created without
// privileged bits; setuid and setgid come back only when the caller owns the
// source and the copy kept its group.
func (f *FS) copyFile(caller Caller, from, to string, st *unix.Stat_t) (err error) {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.CreateTemp(filepath.Dir(to), copyTempPattern)
	if err != nil {
		return err
	}
	tmp := dst.Name()
	defer func() {
		if err != nil {
			dst.Close()
			os.Remove(tmp)
		}
	}()

	// Plain reader and writer wrappers keep io.CopyBuffer on the configured
	// buffer instead of the file's own ReadFrom and WriteTo.
	buf := make([]byte, f.copyBufferSize)
	if _, err := io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	if err := setMetadata(tmp, st); err != nil {
		return err
	}

	if st.Mode&(unix.S_ISUID|unix.S_ISGID) != 0 && st.Uid == caller.UID {
		var dstStat unix.Stat_t
		if err := unix.Fstat(int(dst.Fd()), &dstStat); err != nil {
			return fmt.Errorf("fstat: %w", err)
		}
		if dstStat.Gid == st.Gid {
			if err := unix.Fchmod(int(dst.Fd()), st.Mode&permBits&^caller.Umask); err != nil {
				return fmt.Errorf("fchmod: %w", err)
			}
		}
	}

	if err := dst.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, to)
}

// copyLink recreates a symlink with the same target; only ownership is
// carried over.
func copyLink(from, to string, st *unix.Stat_t) error {
	target, err := os.Readlink(from)
	if err != nil {
		return err
	}
	if err := os.Symlink(target, to); err != nil {
		return err
	}
	if err := unix.Lchown(to, int(st.Uid), int(st.Gid)); err != nil && !errors.Is(err, unix.EPERM) {
		return fmt.Errorf("lchown: %w", err)
	}
	return nil
}

func copyFifo(from, to string, st *unix.Stat_t) error {
	if err := unix.Mkfifo(to, st.Mode&permBits); err != nil {
		return fmt.Errorf("mkfifo %s: %w", from, err)
	}
	return setMetadata(to, st)
}

func copySpecial(from, to string, st *unix.Stat_t) error {
	if err := unix.Mknod(to, st.Mode, int(st.Rdev)); err != nil {
		return fmt.Errorf("mknod %s: %w", from, err)
	}
	return setMetadata(to, st)
}
