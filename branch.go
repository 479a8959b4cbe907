package branchfs

import (
	"fmt"
	"os"
	"path/filepath"
)

// Branch is one physical directory tree taking part in the union.
type Branch struct {
	// Index is the fixed priority rank, lower is more visible
	Index int
	// Root is the absolute path of the branch on the host
	Root string
	// Writable marks branches that may be modified
	Writable bool

	// guard keeps the branch root open for the mount lifetime so the tree
	// cannot be unmounted underneath us
	guard *os.File
}

// BranchSpec describes a branch before the table is built.
type BranchSpec struct {
	Path     string
	Writable bool
}

// BranchTable is the ordered, immutable list of branches fixed at mount.
type BranchTable struct {
	branches []Branch
}

func newBranchTable(specs []BranchSpec) (*BranchTable, error) {
	if len(specs) == 0 {
		return nil, ErrNoBranches
	}
	t := &BranchTable{branches: make([]Branch, 0, len(specs))}
	for i, s := range specs {
		root, err := filepath.Abs(s.Path)
		if err != nil {
			t.close()
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		root = filepath.Clean(root)
		if len(root) > MaxPathLen {
			t.close()
			return nil, pathError("branch", root, ErrNameTooLong)
		}
		guard, err := os.Open(root)
		if err != nil {
			t.close()
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		info, err := guard.Stat()
		if err != nil {
			guard.Close()
			t.close()
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		if !info.IsDir() {
			guard.Close()
			t.close()
			return nil, fmt.Errorf("branch %d: %w", i, pathError("open", root, ErrNotDir))
		}
		t.branches = append(t.branches, Branch{
			Index:    i,
			Root:     root,
			Writable: s.Writable,
			guard:    guard,
		})
	}
	return t, nil
}

// Count returns the number of branches.
func (t *BranchTable) Count() int {
	return len(t.branches)
}

// Branch returns branch i.
func (t *BranchTable) Branch(i int) Branch {
	return t.branches[i]
}

// IsWritable reports whether branch i accepts writes.
func (t *BranchTable) IsWritable(i int) bool {
	return i >= 0 && i < len(t.branches) && t.branches[i].Writable
}

// FindLowestWritable returns the first writable branch with an index below
// ceiling, or -1 if there is none.
func (t *BranchTable) FindLowestWritable(ceiling int) int {
	if ceiling > len(t.branches) {
		ceiling = len(t.branches)
	}
	for i := 0; i < ceiling; i++ {
		if t.branches[i].Writable {
			return i
		}
	}
	return -1
}

// realPath composes the host path of virtual path p on branch i.
func (t *BranchTable) realPath(i int, p string) (string, error) {
	return composePath(t.branches[i].Root, p)
}

func (t *BranchTable) close() error {
	var first error
	for _, b := range t.branches {
		if b.guard == nil {
			continue
		}
		if err := b.guard.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
