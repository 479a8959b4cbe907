package branchfs

import (
	"errors"
	"os"
	"path"
	"path/filepath"

	"github.com/absfs/branchfs/internal/logger"
)

// WhiteoutKind selects the on-disk form of a whiteout marker.
type WhiteoutKind int

const (
	// WhiteoutFile is an empty regular file
	WhiteoutFile WhiteoutKind = iota
	// WhiteoutDir is an empty directory
	WhiteoutDir
)

func (k WhiteoutKind) String() string {
	if k == WhiteoutDir {
		return "dir"
	}
	return "file"
}

// kindOf returns the marker kind matching an entry.
func kindOf(info os.FileInfo) WhiteoutKind {
	if info.IsDir() {
		return WhiteoutDir
	}
	return WhiteoutFile
}

// markerPath returns the host path of the marker for p on branch.
func (f *FS) markerPath(p string, branch int) (string, error) {
	return composePath(f.branches.Branch(branch).Root, MetaDirName, p+HideTag)
}

// markerExists reports whether the marker for exactly p exists on branch.
func (f *FS) markerExists(p string, branch int) (bool, error) {
	mp, err := f.markerPath(p, branch)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(mp); err != nil {
		if isAbsent(err) {
			return false, nil
		}
		return false, pathError("lstat", mp, err)
	}
	return true, nil
}

// IsHidden reports whether p or any of its ancestors carries a whiteout
// marker on branch. It is always false when COW is disabled.
func (f *FS) IsHidden(p string, branch int) (bool, error) {
	if !f.cow {
		return false, nil
	}
	for _, prefix := range prefixes(cleanPath(p)) {
		hidden, err := f.markerExists(prefix, branch)
		if err != nil || hidden {
			return hidden, err
		}
	}
	return false, nil
}

// Hide records a whiteout for p on branch. The metadata directories leading
// to the marker are synthetic and never copied from another branch. An
// existing marker is not an error.
func (f *FS) Hide(p string, branch int, kind WhiteoutKind) error {
	p = cleanPath(p)
	if p == "/" {
		return pathError("hide", p, os.ErrInvalid)
	}
	if !f.branches.IsWritable(branch) {
		return pathError("hide", p, ErrPermission)
	}
	mp, err := f.markerPath(p, branch)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(mp), 0770); err != nil {
		return err
	}

	switch kind {
	case WhiteoutDir:
		if err := os.Mkdir(mp, 0700); err != nil && !errors.Is(err, os.ErrExist) {
			logger.Error("creating whiteout %s failed: %v", mp, err)
			return err
		}
	default:
		fh, err := os.OpenFile(mp, os.O_WRONLY|os.O_CREATE, 0600)
		if err != nil {
			logger.Error("creating whiteout %s failed: %v", mp, err)
			return err
		}
		if err := fh.Close(); err != nil {
			return err
		}
	}

	logger.Debug("hide %s on branch %d (%s)", p, branch, kind)
	f.metrics.ObserveWhiteout("hide")
	return nil
}

// RemoveThrough deletes the marker for p on branches 0 through maxBranch
// inclusive. A negative maxBranch means every branch. Missing markers are
// not an error. A marker on a read-only branch in that range cannot be
// deleted and fails the call with ErrPermission before anything is removed.
func (f *FS) RemoveThrough(p string, maxBranch int) error {
	if !f.cow {
		return nil
	}
	p = cleanPath(p)
	if p == "/" {
		return nil
	}
	maxBranch = f.clampBranch(maxBranch)
	if err := f.checkUnhide(p, maxBranch); err != nil {
		return err
	}
	for i := 0; i <= maxBranch; i++ {
		if !f.branches.IsWritable(i) {
			continue
		}
		mp, err := f.markerPath(p, i)
		if err != nil {
			return err
		}
		// os.Remove handles both marker forms; dir markers are always empty.
		if err := os.Remove(mp); err != nil {
			if isAbsent(err) {
				continue
			}
			return err
		}
		logger.Debug("unhide %s on branch %d", p, i)
		f.metrics.ObserveWhiteout("unhide")
	}
	return nil
}

// checkUnhide fails with ErrPermission when a read-only branch in
// 0..maxBranch carries a marker for p. An entry created for p on maxBranch
// would stay masked by it.
func (f *FS) checkUnhide(p string, maxBranch int) error {
	if !f.cow {
		return nil
	}
	p = cleanPath(p)
	if p == "/" {
		return nil
	}
	maxBranch = f.clampBranch(maxBranch)
	for i := 0; i <= maxBranch; i++ {
		if f.branches.IsWritable(i) {
			continue
		}
		hidden, err := f.markerExists(p, i)
		if err != nil {
			return err
		}
		if hidden {
			logger.Warn("%s is hidden by read-only branch %d", p, i)
			return pathError("unhide", p, ErrPermission)
		}
	}
	return nil
}

func (f *FS) clampBranch(b int) int {
	if b < 0 || b >= f.branches.Count() {
		return f.branches.Count() - 1
	}
	return b
}

// Unhide deletes every marker for p.
func (f *FS) Unhide(p string) error {
	return f.RemoveThrough(p, -1)
}

// WhiteoutIfShadowed is called after p was physically removed from rwBranch.
// If p is still visible from another branch, a marker is created on rwBranch
// so the deleted entry does not resurface.
func (f *FS) WhiteoutIfShadowed(p string, rwBranch int, kind WhiteoutKind) error {
	if !f.cow {
		return nil
	}
	if _, err := f.ResolveAny(p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return f.Hide(p, rwBranch, kind)
}

// hideInherited masks every name of directory p that is visible from a
// branch other than branch. It is used when a directory is created where the
// union previously showed nothing, so contents of a deleted lower directory
// do not reappear inside the new one.
func (f *FS) hideInherited(p string, branch int) error {
	if !f.cow {
		return nil
	}
	names, err := f.List(p)
	if err != nil {
		return err
	}
	for _, name := range names {
		child := path.Join(p, name)
		real, err := f.branches.realPath(branch, child)
		if err != nil {
			return err
		}
		if _, err := os.Lstat(real); err == nil {
			continue
		}
		r, err := f.ResolveAny(child)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		info, err := os.Lstat(r.RealPath)
		if err != nil {
			return err
		}
		if err := f.Hide(child, branch, kindOf(info)); err != nil {
			return err
		}
	}
	return nil
}
