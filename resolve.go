package branchfs

import (
	"errors"
	"os"
	"path"

	"github.com/absfs/branchfs/internal/logger"
)

// Resolution is the outcome of resolving a virtual path: the branch that is
// authoritative for it and the host path on that branch.
type Resolution struct {
	Branch   int
	RealPath string
}

func (f *FS) resolution(branch int, p string) (Resolution, error) {
	real, err := f.branches.realPath(branch, p)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Branch: branch, RealPath: real}, nil
}

// lookup scans the branches in priority order. The first branch holding p
// wins; a whiteout for p (or an ancestor) on a branch without p ends the
// scan with ErrNotFound.
func (f *FS) lookup(p string) (Resolution, os.FileInfo, error) {
	p = cleanPath(p)
	if isReserved(p) {
		return Resolution{}, nil, pathError("lookup", p, ErrNotFound)
	}
	for i := 0; i < f.branches.Count(); i++ {
		real, err := f.branches.realPath(i, p)
		if err != nil {
			return Resolution{}, nil, err
		}
		info, err := os.Lstat(real)
		if err == nil {
			return Resolution{Branch: i, RealPath: real}, info, nil
		}
		if !isAbsent(err) {
			return Resolution{}, nil, pathError("lstat", p, err)
		}
		hidden, err := f.IsHidden(p, i)
		if err != nil {
			return Resolution{}, nil, err
		}
		if hidden {
			return Resolution{}, nil, pathError("lookup", p, ErrNotFound)
		}
	}
	return Resolution{}, nil, pathError("lookup", p, ErrNotFound)
}

// ResolveAny returns the branch that is authoritative for p, read-only or
// not.
func (f *FS) ResolveAny(p string) (Resolution, error) {
	r, _, err := f.lookup(p)
	return r, err
}

// ResolveWritable returns a writable resolution for p, promoting it from a
// read-only branch when needed. Directories are promoted as empty shells.
// Calling it again for a promoted path performs no further copy.
func (f *FS) ResolveWritable(caller Caller, p string) (Resolution, error) {
	return f.resolveWritable(caller, p, false)
}

// ResolveWritableTree is ResolveWritable with a deep copy for directories:
// every entry visible under p is materialized on the returned branch.
func (f *FS) ResolveWritableTree(caller Caller, p string) (Resolution, error) {
	return f.resolveWritable(caller, p, true)
}

func (f *FS) resolveWritable(caller Caller, p string, deep bool) (Resolution, error) {
	p = cleanPath(p)
	r, info, err := f.lookup(p)
	if err != nil {
		return Resolution{}, err
	}

	if f.branches.IsWritable(r.Branch) {
		if deep && info.IsDir() {
			if err := f.promoteChildren(caller, p, r.Branch); err != nil {
				return Resolution{}, err
			}
		}
		return r, nil
	}

	if !f.cow {
		return Resolution{}, pathError("open", p, ErrPermission)
	}

	dest := f.branches.FindLowestWritable(r.Branch)
	if dest < 0 {
		return Resolution{}, pathError("open", p, ErrPermission)
	}

	req := CowRequest{Source: r.Branch, Dest: dest, Path: p, Recurse: deep}
	if err := f.promote(caller, req); err != nil {
		return Resolution{}, err
	}
	if err := f.RemoveThrough(p, dest); err != nil {
		return Resolution{}, err
	}
	return f.resolution(dest, p)
}

// ResolveForNewEntry returns the writable branch on which an entry inside
// directory parent is to be created, with parent materialized there. hint
// is AutoBranch or a writable branch the caller requires. Missing ancestors
// are created as synthetic directories on the branch chosen for the nearest
// existing one.
func (f *FS) ResolveForNewEntry(caller Caller, parent string, hint int) (Resolution, error) {
	parent = cleanPath(parent)
	if isReserved(parent) {
		return Resolution{}, pathError("create", parent, ErrPermission)
	}

	r, info, err := f.lookup(parent)
	if err != nil {
		if !errors.Is(err, ErrNotFound) || parent == "/" {
			return Resolution{}, err
		}
		up, err := f.ResolveForNewEntry(caller, path.Dir(parent), hint)
		if err != nil {
			return Resolution{}, err
		}
		if err := f.createDir(caller, parent, up.Branch); err != nil {
			return Resolution{}, err
		}
		return f.resolution(up.Branch, parent)
	}
	if !info.IsDir() {
		return Resolution{}, pathError("create", parent, ErrNotDir)
	}

	if f.branches.IsWritable(r.Branch) && (hint == AutoBranch || hint == r.Branch) {
		return r, nil
	}

	if !f.cow {
		return Resolution{}, pathError("create", parent, ErrPermission)
	}

	rw := hint
	if hint == AutoBranch {
		rw = f.branches.FindLowestWritable(r.Branch)
		if rw < 0 {
			// directories merge, so any writable branch will do
			rw = f.branches.FindLowestWritable(f.branches.Count())
		}
	} else if !f.branches.IsWritable(hint) {
		rw = -1
	}
	if rw < 0 {
		return Resolution{}, pathError("create", parent, ErrPermission)
	}

	logger.Debug("materialize %s from branch %d on branch %d", parent, r.Branch, rw)
	if err := f.pathCreate(caller, parent, r.Branch, rw); err != nil {
		return Resolution{}, err
	}
	return f.resolution(rw, parent)
}

// resolveTarget returns the writable resolution for an entry that is about
// to be written or replaced: the entry itself when it exists, otherwise the
// branch chosen for its parent.
func (f *FS) resolveTarget(caller Caller, p string, hint int) (Resolution, error) {
	p = cleanPath(p)
	if p == "/" {
		return f.ResolveWritable(caller, p)
	}
	r, err := f.ResolveWritable(caller, p)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return r, err
	}
	if isForbiddenName(p) {
		return Resolution{}, pathError("create", p, ErrPermission)
	}
	parent, err := f.ResolveForNewEntry(caller, path.Dir(p), hint)
	if err != nil {
		return Resolution{}, err
	}
	if err := f.checkUnhide(p, parent.Branch); err != nil {
		return Resolution{}, err
	}
	return f.resolution(parent.Branch, p)
}

// createDir makes a synthetic directory for p on branch where the union
// showed nothing, clears stale markers and masks whatever a lower branch
// would otherwise contribute to it.
func (f *FS) createDir(caller Caller, p string, branch int) error {
	real, err := f.branches.realPath(branch, p)
	if err != nil {
		return err
	}
	if err := f.checkUnhide(p, branch); err != nil {
		return err
	}
	if err := f.mkdirSynthetic(caller, real, 0777); err != nil && !errors.Is(err, os.ErrExist) {
		return pathError("mkdir", p, err)
	}
	if err := f.RemoveThrough(p, branch); err != nil {
		return err
	}
	return f.hideInherited(p, branch)
}
