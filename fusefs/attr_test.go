package fusefs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/absfs/branchfs"
)

func TestUnionPath(t *testing.T) {
	assert.Equal(t, "/", unionPath(""))
	assert.Equal(t, "/a/b", unionPath("a/b"))
	assert.Equal(t, "/a/b", childPath("/a", "b"))
	assert.Equal(t, "/b", childPath("/", "b"))
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{branchfs.ErrNotFound, syscall.ENOENT},
		{&iofs.PathError{Op: "open", Path: "/x", Err: branchfs.ErrPermission}, syscall.EACCES},
		{fmt.Errorf("wrapped: %w", branchfs.ErrCrossBranch), syscall.EXDEV},
		{&os.LinkError{Op: "rename", Old: "/a", New: "/b", Err: syscall.ENOTEMPTY}, syscall.ENOTEMPTY},
		{&iofs.PathError{Op: "open", Path: "/x", Err: os.ErrExist}, syscall.EEXIST},
		{os.ErrNotExist, syscall.ENOENT},
		{os.ErrClosed, syscall.EBADF},
		{errors.New("boom"), syscall.EIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toErrno(tt.err), "error %v", tt.err)
	}
}

func TestToFileMode(t *testing.T) {
	assert.Equal(t, os.FileMode(0644), toFileMode(0644))
	assert.Equal(t, os.FileMode(0755), toFileMode(syscall.S_IFREG|0755))
	assert.Equal(t, os.ModeSetuid|os.ModeSetgid|os.ModeSticky|0700,
		toFileMode(syscall.S_ISUID|syscall.S_ISGID|syscall.S_ISVTX|0700))
}

func TestTypeBits(t *testing.T) {
	assert.Equal(t, uint32(syscall.S_IFREG), typeBits(0))
	assert.Equal(t, uint32(syscall.S_IFDIR), typeBits(os.ModeDir))
	assert.Equal(t, uint32(syscall.S_IFLNK), typeBits(os.ModeSymlink))
	assert.Equal(t, uint32(syscall.S_IFIFO), typeBits(os.ModeNamedPipe))
	assert.Equal(t, uint32(syscall.S_IFSOCK), typeBits(os.ModeSocket))
	assert.Equal(t, uint32(syscall.S_IFCHR), typeBits(os.ModeDevice|os.ModeCharDevice))
	assert.Equal(t, uint32(syscall.S_IFBLK), typeBits(os.ModeDevice))
}

func TestStableAttr(t *testing.T) {
	st := &syscall.Stat_t{Dev: 42, Ino: 1000, Mode: syscall.S_IFDIR | 0755}

	same := stableAttr(st, 42)
	assert.Equal(t, uint64(1000), same.Ino)
	assert.Equal(t, uint32(syscall.S_IFDIR), same.Mode)

	other := stableAttr(st, 7)
	assert.NotEqual(t, uint64(1000), other.Ino)
}

func TestCallerFromContext(t *testing.T) {
	c := callerFrom(context.Background())
	assert.Equal(t, uint32(os.Getuid()), c.UID)
	assert.Equal(t, branchfs.ProcessCaller().Umask, c.Umask)

	ctx := fuse.NewContext(context.Background(), &fuse.Caller{Owner: fuse.Owner{Uid: 1234, Gid: 5678}})
	c = callerFrom(ctx)
	assert.Equal(t, uint32(1234), c.UID)
	assert.Equal(t, uint32(5678), c.GID)
}

func TestDirEntries(t *testing.T) {
	rw := t.TempDir()
	ro := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ro, "file"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(rw, "dir"), 0755))
	require.NoError(t, os.Symlink("file", filepath.Join(rw, "link")))

	fsys, err := branchfs.New(branchfs.WithBranch(rw, true), branchfs.WithBranch(ro, false))
	require.NoError(t, err)
	defer fsys.Close()

	entries, err := fsys.ReadDir("/")
	require.NoError(t, err)

	const rootDev = 42
	got := dirEntries(entries, rootDev)
	require.Len(t, got, 3)
	modes := make(map[string]uint32)
	for _, e := range got {
		modes[e.Name] = e.Mode
		assert.NotZero(t, e.Ino, e.Name)

		info, err := fsys.Lstat("/" + e.Name)
		require.NoError(t, err)
		st := info.Sys().(*syscall.Stat_t)
		assert.Equal(t, stableAttr(st, rootDev).Ino, e.Ino, "readdir and lookup disagree on %s", e.Name)
	}
	assert.Equal(t, uint32(syscall.S_IFDIR), modes["dir"])
	assert.Equal(t, uint32(syscall.S_IFREG), modes["file"])
	assert.Equal(t, uint32(syscall.S_IFLNK), modes["link"])
}

func TestLoopbackHandle(t *testing.T) {
	rw := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rw, "file"), []byte("hello"), 0644))

	fsys, err := branchfs.New(branchfs.WithBranch(rw, true))
	require.NoError(t, err)
	defer fsys.Close()

	f, err := fsys.Open("/file")
	require.NoError(t, err)
	fh, st, e := loopbackHandle(f)
	require.Equal(t, syscall.Errno(0), e)
	assert.Equal(t, int64(5), st.Size)
	assert.NotNil(t, fh)

	dir, err := fsys.Open("/")
	require.NoError(t, err)
	_, _, e = loopbackHandle(dir)
	assert.Equal(t, syscall.EISDIR, e)
}

func TestFillStatfs(t *testing.T) {
	st := unix.Statfs_t{Blocks: 100, Bfree: 50, Bavail: 40, Files: 10, Ffree: 5, Bsize: 4096, Frsize: 4096, Namelen: 255}
	var out fuse.StatfsOut
	fillStatfs(&st, &out)

	assert.Equal(t, uint64(100), out.Blocks)
	assert.Equal(t, uint64(40), out.Bavail)
	assert.Equal(t, uint32(4096), out.Bsize)
	assert.Equal(t, uint32(255), out.NameLen)
}

func TestMountOptions(t *testing.T) {
	opts := mountOptions(Options{FSName: "data", AllowOther: true})
	assert.Equal(t, "data", opts.FsName)
	assert.True(t, opts.AllowOther)
	assert.Contains(t, opts.Options, "default_permissions")
	require.NotNil(t, opts.EntryTimeout)
	require.NotNil(t, opts.AttrTimeout)

	relaxed := mountOptions(Options{RelaxedPermissions: true})
	assert.NotContains(t, relaxed.Options, "default_permissions")
}
