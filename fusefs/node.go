// Package fusefs exposes a branchfs union through the kernel with go-fuse.
//
// Nodes hold no state besides their place in the inode tree. Every request
// rebuilds the union path from the tree and asks the engine, so promotions
// and whiteouts made through other paths are seen immediately.
package fusefs

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/absfs/branchfs"
	"github.com/absfs/branchfs/internal/logger"
)

// Root is the shared state of a mounted union.
type Root struct {
	fs *branchfs.FS

	// rootDev is mixed out of inode numbers so a union on a single device
	// keeps the branch inode numbers
	rootDev uint64
}

// NewRoot returns the root node of a mountable view of fsys.
func NewRoot(fsys *branchfs.FS) (fs.InodeEmbedder, error) {
	r := &Root{fs: fsys}
	if fsys.Branches().Count() > 0 {
		var st syscall.Stat_t
		if err := syscall.Stat(fsys.Branches().Branch(0).Root, &st); err != nil {
			return nil, err
		}
		r.rootDev = uint64(st.Dev)
	}
	return &node{root: r}, nil
}

// node is a file, directory or other entry of the union.
type node struct {
	fs.Inode

	root *Root
}

var (
	_ = (fs.NodeLookuper)((*node)(nil))
	_ = (fs.NodeGetattrer)((*node)(nil))
	_ = (fs.NodeSetattrer)((*node)(nil))
	_ = (fs.NodeReaddirer)((*node)(nil))
	_ = (fs.NodeOpener)((*node)(nil))
	_ = (fs.NodeCreater)((*node)(nil))
	_ = (fs.NodeMkdirer)((*node)(nil))
	_ = (fs.NodeMknoder)((*node)(nil))
	_ = (fs.NodeLinker)((*node)(nil))
	_ = (fs.NodeSymlinker)((*node)(nil))
	_ = (fs.NodeUnlinker)((*node)(nil))
	_ = (fs.NodeRmdirer)((*node)(nil))
	_ = (fs.NodeRenamer)((*node)(nil))
	_ = (fs.NodeReadlinker)((*node)(nil))
	_ = (fs.NodeStatfser)((*node)(nil))
)

// path returns the union path of the node.
func (n *node) path() string {
	return unionPath(n.Path(nil))
}

func (n *node) child(name string) string {
	return childPath(n.path(), name)
}

// view returns the engine acting on behalf of the requesting process.
func (n *node) view(ctx context.Context) *branchfs.FS {
	return n.root.fs.WithCaller(callerFrom(ctx))
}

func (n *node) newChild(ctx context.Context, st *syscall.Stat_t) *fs.Inode {
	return n.NewInode(ctx, &node{root: n.root}, stableAttr(st, n.root.rootDev))
}

// entry looks up p after it was created and fills out.
func (n *node) entry(ctx context.Context, view *branchfs.FS, p string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	info, err := view.Lstat(p)
	if err != nil {
		return nil, errno("lstat", p, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, syscall.EIO
	}
	out.Attr.FromStat(st)
	return n.newChild(ctx, st), fs.OK
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return n.entry(ctx, n.root.fs, n.child(name), out)
}

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if fga, ok := f.(fs.FileGetattrer); ok {
		return fga.Getattr(ctx, out)
	}

	p := n.path()
	info, err := n.root.fs.Lstat(p)
	if err != nil {
		return errno("getattr", p, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return syscall.EIO
	}
	out.FromStat(st)
	return fs.OK
}

// Setattr applies attribute changes by path. Handles are not used because
// a read-only handle may point into a lower branch.
func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p := n.path()
	view := n.view(ctx)

	if m, ok := in.GetMode(); ok {
		if err := view.Chmod(p, toFileMode(m)); err != nil {
			return errno("chmod", p, err)
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		suid, sgid := -1, -1
		if uok {
			suid = int(uid)
		}
		if gok {
			sgid = int(gid)
		}
		if err := view.Lchown(p, suid, sgid); err != nil {
			return errno("chown", p, err)
		}
	}

	mtime, mok := in.GetMTime()
	atime, aok := in.GetATime()
	if mok || aok {
		if !mok || !aok {
			info, err := view.Lstat(p)
			if err != nil {
				return errno("lstat", p, err)
			}
			cur := info.Sys().(*syscall.Stat_t)
			if !aok {
				atime = time.Unix(cur.Atim.Unix())
			}
			if !mok {
				mtime = time.Unix(cur.Mtim.Unix())
			}
		}
		if err := view.Chtimes(p, atime, mtime); err != nil {
			return errno("chtimes", p, err)
		}
	}

	if sz, ok := in.GetSize(); ok {
		if err := view.Truncate(p, int64(sz)); err != nil {
			return errno("truncate", p, err)
		}
	}

	return n.Getattr(ctx, nil, out)
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	p := n.path()
	entries, err := n.root.fs.ReadDir(p)
	if err != nil {
		return nil, errno("readdir", p, err)
	}
	return fs.NewListDirStream(dirEntries(entries, n.root.rootDev)), fs.OK
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	p := n.path()
	flags = flags &^ (syscall.O_APPEND | fuse.FMODE_EXEC)

	f, err := n.view(ctx).OpenFile(p, int(flags), 0)
	if err != nil {
		return nil, 0, errno("open", p, err)
	}
	fh, _, e := loopbackHandle(f)
	return fh, 0, e
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p := n.child(name)
	flags = flags &^ syscall.O_APPEND

	f, err := n.view(ctx).OpenFile(p, int(flags)|os.O_CREATE, toFileMode(mode))
	if err != nil {
		return nil, nil, 0, errno("create", p, err)
	}
	fh, st, e := loopbackHandle(f)
	if e != fs.OK {
		return nil, nil, 0, e
	}
	out.FromStat(st)
	return n.newChild(ctx, st), fh, 0, fs.OK
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	view := n.view(ctx)
	if err := view.Mkdir(p, toFileMode(mode)); err != nil {
		return nil, errno("mkdir", p, err)
	}
	return n.entry(ctx, view, p, out)
}

func (n *node) Mknod(ctx context.Context, name string, mode, rdev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	view := n.view(ctx)
	if err := view.Mknod(p, mode, int(rdev)); err != nil {
		return nil, errno("mknod", p, err)
	}
	return n.entry(ctx, view, p, out)
}

func (n *node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	old := unionPath(target.EmbeddedInode().Path(nil))
	view := n.view(ctx)
	if err := view.Link(old, p); err != nil {
		return nil, errno("link", p, err)
	}
	return n.entry(ctx, view, p, out)
}

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	view := n.view(ctx)
	if err := view.Symlink(target, p); err != nil {
		return nil, errno("symlink", p, err)
	}
	return n.entry(ctx, view, p, out)
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name, false)
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name, true)
}

// remove checks the entry type the way unlink(2) and rmdir(2) do before
// handing the path to the engine.
func (n *node) remove(ctx context.Context, name string, dir bool) syscall.Errno {
	p := n.child(name)
	view := n.view(ctx)
	info, err := view.Lstat(p)
	if err != nil {
		return errno("remove", p, err)
	}
	switch {
	case dir && !info.IsDir():
		return syscall.ENOTDIR
	case !dir && info.IsDir():
		return syscall.EISDIR
	}
	if err := view.Remove(p); err != nil {
		return errno("remove", p, err)
	}
	return fs.OK
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*node)
	if !ok || np.root != n.root {
		return syscall.EXDEV
	}
	from := n.child(name)
	to := np.child(newName)
	view := n.view(ctx)

	switch flags {
	case 0:
	case unix.RENAME_NOREPLACE:
		if _, err := view.Lstat(to); err == nil {
			return syscall.EEXIST
		}
	default:
		return syscall.EINVAL
	}

	if err := view.Rename(from, to); err != nil {
		return errno("rename", from, err)
	}
	return fs.OK
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	p := n.path()
	target, err := n.root.fs.Readlink(p)
	if err != nil {
		return nil, errno("readlink", p, err)
	}
	return []byte(target), fs.OK
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st, err := n.root.fs.Statfs()
	if err != nil {
		return errno("statfs", "/", err)
	}
	fillStatfs(&st, out)
	return fs.OK
}

// errno converts an engine error and logs failures other than the
// expected lookup misses.
func errno(op, p string, err error) syscall.Errno {
	e := toErrno(err)
	if e != syscall.ENOENT {
		logger.Debug("%s %s: %v", op, p, err)
	}
	return e
}
