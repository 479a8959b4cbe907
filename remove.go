package branchfs

import (
	"os"
	"path"

	"github.com/absfs/branchfs/internal/logger"
)

// RemoveEntry deletes p from the union view. A copy on a writable branch is
// physically removed; whatever remains visible below it is then masked by a
// whiteout. An entry that lives only on a read-only branch is masked on the
// lowest writable branch above it without copying any data. Directories
// must be empty in the merged view.
func (f *FS) RemoveEntry(caller Caller, p string) error {
	p = cleanPath(p)
	if p == "/" {
		return pathError("remove", p, ErrPermission)
	}

	r, info, err := f.lookup(p)
	if err != nil {
		return err
	}
	kind := kindOf(info)

	if info.IsDir() {
		empty, err := f.IsEmptyMerged(p)
		if err != nil {
			return err
		}
		if !empty {
			return pathError("remove", p, ErrNotEmpty)
		}
	}

	if !f.branches.IsWritable(r.Branch) {
		if !f.cow {
			return pathError("remove", p, ErrPermission)
		}
		rw := f.branches.FindLowestWritable(r.Branch)
		if rw < 0 {
			return pathError("remove", p, ErrPermission)
		}
		// the parent must exist on rw for the union to stay consistent
		if err := f.pathCreate(caller, path.Dir(p), r.Branch, rw); err != nil {
			return err
		}
		logger.Debug("remove %s: whiteout on branch %d over read-only branch %d", p, rw, r.Branch)
		return f.Hide(p, rw, kind)
	}

	if err := os.Remove(r.RealPath); err != nil {
		return pathError("remove", p, err)
	}
	if info.IsDir() {
		if err := f.clearMarkerDir(p, r.Branch); err != nil {
			return err
		}
	}

	return f.WhiteoutIfShadowed(p, r.Branch, kind)
}

// clearMarkerDir removes the metadata directory mirroring p on branch. It
// only holds markers for children, which are meaningless once p is gone.
func (f *FS) clearMarkerDir(p string, branch int) error {
	meta, err := composePath(f.branches.Branch(branch).Root, MetaDirName, p)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(meta); err != nil {
		return pathError("remove", p, err)
	}
	return nil
}
