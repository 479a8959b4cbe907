package branchfs

import (
	"testing"

	"github.com/absfs/fstesting"
)

// TestBranchFSSuite runs the fstesting suite against the symlink view of a
// union of one writable and one read-only branch.
func TestBranchFSSuite(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], false))

	features := fstesting.OSFeatures()
	// the absfs view has no Link method
	features.HardLinks = false

	suite := &fstesting.Suite{
		FS:       ufs.SymlinkFileSystem(),
		Features: features,
		TestDir:  "/",
	}

	suite.Run(t)
}
