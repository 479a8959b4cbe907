package fusefs

import (
	"context"
	"errors"
	iofs "io/fs"
	"os"
	"path"
	"syscall"

	"github.com/absfs/absfs"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/absfs/branchfs"
)

// unionPath turns a path relative to the mount root into a union path.
func unionPath(rel string) string {
	return path.Clean("/" + rel)
}

func childPath(dir, name string) string {
	return path.Join(dir, name)
}

// callerFrom returns the identity of the process behind a request. The
// kernel does not send a umask with every request, so the one of the mount
// process is used.
func callerFrom(ctx context.Context) branchfs.Caller {
	c := branchfs.ProcessCaller()
	if fc, ok := fuse.FromContext(ctx); ok {
		c.UID = fc.Uid
		c.GID = fc.Gid
	}
	return c
}

// stableAttr derives an inode number from the branch entry. Entries on the
// mount root's device keep their own inode numbers.
func stableAttr(st *syscall.Stat_t, rootDev uint64) fs.StableAttr {
	swapped := (uint64(st.Dev) << 32) | (uint64(st.Dev) >> 32)
	swappedRootDev := (rootDev << 32) | (rootDev >> 32)
	return fs.StableAttr{
		Mode: uint32(st.Mode) & syscall.S_IFMT,
		Gen:  1,
		Ino:  (swapped ^ swappedRootDev) ^ st.Ino,
	}
}

// toErrno maps an engine error to the errno returned to the kernel.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return fs.OK
	}
	var e syscall.Errno
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, iofs.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, iofs.ErrPermission):
		return syscall.EPERM
	case errors.Is(err, iofs.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, iofs.ErrClosed):
		return syscall.EBADF
	}
	return syscall.EIO
}

// toFileMode converts raw permission bits to an os.FileMode.
func toFileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0777)
	if mode&syscall.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if mode&syscall.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if mode&syscall.S_ISVTX != 0 {
		m |= os.ModeSticky
	}
	return m
}

// typeBits returns the S_IFMT bits for an os.FileMode type.
func typeBits(m os.FileMode) uint32 {
	switch {
	case m&os.ModeDir != 0:
		return syscall.S_IFDIR
	case m&os.ModeSymlink != 0:
		return syscall.S_IFLNK
	case m&os.ModeNamedPipe != 0:
		return syscall.S_IFIFO
	case m&os.ModeSocket != 0:
		return syscall.S_IFSOCK
	case m&os.ModeCharDevice != 0:
		return syscall.S_IFCHR
	case m&os.ModeDevice != 0:
		return syscall.S_IFBLK
	}
	return syscall.S_IFREG
}

// dirEntries converts a merged listing. Inode numbers go through
// stableAttr so readdir and lookup agree.
func dirEntries(entries []iofs.DirEntry, rootDev uint64) []fuse.DirEntry {
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		de := fuse.DirEntry{Name: e.Name(), Mode: typeBits(e.Type())}
		if info, err := e.Info(); err == nil {
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				de.Ino = stableAttr(st, rootDev).Ino
			}
		}
		out = append(out, de)
	}
	return out
}

// loopbackHandle turns a file opened by the engine into a kernel file
// handle. The descriptor is duplicated and f is closed.
func loopbackHandle(f absfs.File) (fs.FileHandle, *syscall.Stat_t, syscall.Errno) {
	defer f.Close()

	osf, ok := f.(*os.File)
	if !ok {
		return nil, nil, syscall.EISDIR
	}
	fd, err := unix.FcntlInt(osf.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, nil, toErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Fstat(fd, &st); err != nil {
		syscall.Close(fd)
		return nil, nil, toErrno(err)
	}
	return fs.NewLoopbackFile(fd), &st, fs.OK
}

func fillStatfs(st *unix.Statfs_t, out *fuse.StatfsOut) {
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.Frsize = uint32(st.Frsize)
	out.NameLen = uint32(st.Namelen)
}
