package branchfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/absfs/absfs"
	"golang.org/x/sys/unix"
)

// Stat returns file info of the authoritative entry, following symlinks
func (f *FS) Stat(name string) (os.FileInfo, error) {
	_, _, info, err := f.follow(name)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Lstat returns file info of the authoritative entry without following
// symlinks
func (f *FS) Lstat(name string) (os.FileInfo, error) {
	_, info, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Open opens a file for reading
func (f *FS) Open(name string) (absfs.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates a file
func (f *FS) Create(name string) (absfs.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// OpenFile opens a file. Read-only opens use the authoritative branch and
// return a merged handle for directories. Any write intent promotes the
// file to a writable branch first; O_CREATE places a new file on the
// branch chosen for its parent.
func (f *FS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	name = cleanPath(name)

	isWrite := flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0
	if !isWrite {
		target, r, info, err := f.follow(name)
		if err != nil {
			return nil, err
		}
		if info.IsDir() && r.Branch >= 0 {
			return newMergedDir(f, target), nil
		}
		fh, err := os.OpenFile(r.RealPath, flag, 0)
		if err != nil {
			return nil, pathError("open", name, err)
		}
		return fh, nil
	}

	if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
		if _, _, err := f.lookup(name); err == nil {
			return nil, pathError("open", name, os.ErrExist)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	var r Resolution
	var err error
	if flag&os.O_CREATE != 0 {
		r, err = f.resolveTarget(f.caller, name, AutoBranch)
	} else {
		r, err = f.ResolveWritable(f.caller, name)
	}
	if err != nil {
		return nil, err
	}

	_, statErr := os.Lstat(r.RealPath)
	created := isAbsent(statErr)

	fh, err := os.OpenFile(r.RealPath, flag, perm)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	if created {
		if err := f.finishCreate(name, r); err != nil {
			fh.Close()
			return nil, err
		}
	}
	return fh, nil
}

// finishCreate runs after a new entry appeared on r.Branch: the entry goes
// to the caller and stale whiteouts above it are dropped.
func (f *FS) finishCreate(name string, r Resolution) error {
	setOwner(f.caller, r.RealPath)
	return f.RemoveThrough(name, r.Branch)
}

// newEntry resolves the branch for an entry that must not exist yet.
func (f *FS) newEntry(op, name string) (Resolution, error) {
	if name == "/" || isForbiddenName(name) {
		return Resolution{}, pathError(op, name, ErrPermission)
	}
	if _, _, err := f.lookup(name); err == nil {
		return Resolution{}, pathError(op, name, os.ErrExist)
	} else if !errors.Is(err, ErrNotFound) {
		return Resolution{}, err
	}
	parent, err := f.ResolveForNewEntry(f.caller, path.Dir(name), AutoBranch)
	if err != nil {
		return Resolution{}, err
	}
	if err := f.checkUnhide(name, parent.Branch); err != nil {
		return Resolution{}, err
	}
	return f.resolution(parent.Branch, name)
}

// Mkdir creates a directory. Entries a deleted directory of the same name
// had on lower branches stay hidden.
func (f *FS) Mkdir(name string, perm os.FileMode) error {
	name = cleanPath(name)
	r, err := f.newEntry("mkdir", name)
	if err != nil {
		return err
	}
	if err := os.Mkdir(r.RealPath, perm); err != nil {
		return pathError("mkdir", name, err)
	}
	if err := f.finishCreate(name, r); err != nil {
		return err
	}
	return f.hideInherited(name, r.Branch)
}

// MkdirAll creates a directory and all missing parents
func (f *FS) MkdirAll(name string, perm os.FileMode) error {
	for _, level := range prefixes(cleanPath(name)) {
		info, err := f.Lstat(level)
		if err == nil {
			if !info.IsDir() {
				return pathError("mkdir", level, ErrNotDir)
			}
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := f.Mkdir(level, perm); err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
	}
	return nil
}

// Mknod creates a device node, fifo or regular file from a raw mode
func (f *FS) Mknod(name string, mode uint32, dev int) error {
	name = cleanPath(name)
	r, err := f.newEntry("mknod", name)
	if err != nil {
		return err
	}
	if err := unix.Mknod(r.RealPath, mode, dev); err != nil {
		return pathError("mknod", name, err)
	}
	return f.finishCreate(name, r)
}

// Remove deletes a file or an empty directory
func (f *FS) Remove(name string) error {
	return f.RemoveEntry(f.caller, name)
}

// RemoveAll removes a path and all children. A missing path is not an
// error.
func (f *FS) RemoveAll(name string) error {
	name = cleanPath(name)
	info, err := f.Lstat(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		names, err := f.List(name)
		if err != nil {
			return err
		}
		for _, child := range names {
			if err := f.RemoveAll(path.Join(name, child)); err != nil {
				return err
			}
		}
	}
	return f.Remove(name)
}

func linkError(op, oldname, newname string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return &os.LinkError{Op: op, Old: oldname, New: newname, Err: err}
}

// Rename moves oldname to newname on a single writable branch. Directories
// are first materialized with all their visible contents. When newname
// already lives on another writable branch the rename fails with
// ErrCrossBranch.
func (f *FS) Rename(oldname, newname string) error {
	oldname = cleanPath(oldname)
	newname = cleanPath(newname)
	if oldname == "/" || newname == "/" || isForbiddenName(newname) {
		return linkError("rename", oldname, newname, ErrPermission)
	}

	_, oldInfo, err := f.lookup(oldname)
	if err != nil {
		return linkError("rename", oldname, newname, err)
	}
	if oldname == newname {
		return nil
	}

	_, newInfo, err := f.lookup(newname)
	existed := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return linkError("rename", oldname, newname, err)
	}
	if existed {
		switch {
		case newInfo.IsDir() && !oldInfo.IsDir():
			return linkError("rename", oldname, newname, syscall.EISDIR)
		case !newInfo.IsDir() && oldInfo.IsDir():
			return linkError("rename", oldname, newname, ErrNotDir)
		case newInfo.IsDir():
			empty, err := f.IsEmptyMerged(newname)
			if err != nil {
				return linkError("rename", oldname, newname, err)
			}
			if !empty {
				return linkError("rename", oldname, newname, ErrNotEmpty)
			}
		}
	}

	var src Resolution
	if oldInfo.IsDir() {
		src, err = f.ResolveWritableTree(f.caller, oldname)
	} else {
		src, err = f.ResolveWritable(f.caller, oldname)
	}
	if err != nil {
		return linkError("rename", oldname, newname, err)
	}

	dst, err := f.resolveTarget(f.caller, newname, src.Branch)
	if err != nil {
		return linkError("rename", oldname, newname, err)
	}
	if dst.Branch != src.Branch {
		return linkError("rename", oldname, newname, ErrCrossBranch)
	}

	if err := os.Rename(src.RealPath, dst.RealPath); err != nil {
		return linkError("rename", oldname, newname, err)
	}

	if err := f.RemoveThrough(newname, src.Branch); err != nil {
		return err
	}
	if oldInfo.IsDir() {
		if err := f.clearMarkerDir(oldname, src.Branch); err != nil {
			return err
		}
		if !existed {
			if err := f.hideInherited(newname, src.Branch); err != nil {
				return err
			}
		}
	}
	return f.WhiteoutIfShadowed(oldname, src.Branch, kindOf(oldInfo))
}

// Link creates newname as a hard link to oldname. Both names end up on the
// same writable branch.
func (f *FS) Link(oldname, newname string) error {
	oldname = cleanPath(oldname)
	newname = cleanPath(newname)
	if isForbiddenName(newname) {
		return linkError("link", oldname, newname, ErrPermission)
	}

	_, info, err := f.lookup(oldname)
	if err != nil {
		return linkError("link", oldname, newname, err)
	}
	if info.IsDir() {
		return linkError("link", oldname, newname, syscall.EPERM)
	}

	src, err := f.ResolveWritable(f.caller, oldname)
	if err != nil {
		return linkError("link", oldname, newname, err)
	}
	if _, _, err := f.lookup(newname); err == nil {
		return linkError("link", oldname, newname, os.ErrExist)
	} else if !errors.Is(err, ErrNotFound) {
		return linkError("link", oldname, newname, err)
	}
	parent, err := f.ResolveForNewEntry(f.caller, path.Dir(newname), src.Branch)
	if err != nil {
		return linkError("link", oldname, newname, err)
	}
	if parent.Branch != src.Branch {
		return linkError("link", oldname, newname, ErrCrossBranch)
	}
	dst, err := f.resolution(src.Branch, newname)
	if err != nil {
		return linkError("link", oldname, newname, err)
	}
	if err := f.checkUnhide(newname, dst.Branch); err != nil {
		return linkError("link", oldname, newname, err)
	}

	if err := os.Link(src.RealPath, dst.RealPath); err != nil {
		return linkError("link", oldname, newname, err)
	}
	return f.RemoveThrough(newname, dst.Branch)
}

// Chmod changes the mode of the named file, promoting it first
func (f *FS) Chmod(name string, mode os.FileMode) error {
	name = cleanPath(name)
	r, err := f.ResolveWritable(f.caller, name)
	if err != nil {
		return err
	}
	if err := os.Chmod(r.RealPath, mode); err != nil {
		return pathError("chmod", name, err)
	}
	return nil
}

// Chown changes the owner of the named file, promoting it first
func (f *FS) Chown(name string, uid, gid int) error {
	name = cleanPath(name)
	r, err := f.ResolveWritable(f.caller, name)
	if err != nil {
		return err
	}
	if err := os.Chown(r.RealPath, uid, gid); err != nil {
		return pathError("chown", name, err)
	}
	return nil
}

// Chtimes changes the access and modification times, promoting first
func (f *FS) Chtimes(name string, atime, mtime time.Time) error {
	name = cleanPath(name)
	r, err := f.ResolveWritable(f.caller, name)
	if err != nil {
		return err
	}
	if err := os.Chtimes(r.RealPath, atime, mtime); err != nil {
		return pathError("chtimes", name, err)
	}
	return nil
}

// Truncate changes the size of the named file, promoting it first
func (f *FS) Truncate(name string, size int64) error {
	name = cleanPath(name)
	_, info, err := f.lookup(name)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return pathError("truncate", name, syscall.EISDIR)
	}
	r, err := f.ResolveWritable(f.caller, name)
	if err != nil {
		return err
	}
	if err := os.Truncate(r.RealPath, size); err != nil {
		return pathError("truncate", name, err)
	}
	return nil
}

// ReadFile reads the named file and returns its contents
func (f *FS) ReadFile(name string) ([]byte, error) {
	fh, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return io.ReadAll(fh)
}

// Sub returns an fs.FS corresponding to the subtree rooted at dir
func (f *FS) Sub(dir string) (fs.FS, error) {
	return absfs.FilerToFS(f, cleanPath(dir))
}
