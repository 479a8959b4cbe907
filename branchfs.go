package branchfs

import (
	"fmt"

	"github.com/absfs/branchfs/internal/logger"
)

const (
	// AutoBranch lets the resolver pick the writable branch for a new entry
	AutoBranch = -1

	defaultCopyBufferSize = 32 * 1024
)

// FS is a union of ordered branches. It is immutable after New and safe for
// concurrent use; concurrent operations on the same path are not serialized.
type FS struct {
	branches       *BranchTable
	cow            bool
	statfsOmitRO   bool
	hideMetaFiles  bool
	copyBufferSize int
	metrics        Metrics
	caller         Caller

	specs []BranchSpec
}

// Option is a functional option for configuring FS
type Option func(*FS)

// WithBranch appends a branch. Branches added first have the highest
// priority.
func WithBranch(path string, writable bool) Option {
	return func(f *FS) {
		f.specs = append(f.specs, BranchSpec{Path: path, Writable: writable})
	}
}

// WithBranches appends several branches in priority order
func WithBranches(specs ...BranchSpec) Option {
	return func(f *FS) {
		f.specs = append(f.specs, specs...)
	}
}

// WithCOW enables copy-on-write promotion and whiteout markers
func WithCOW(enabled bool) Option {
	return func(f *FS) {
		f.cow = enabled
	}
}

// WithStatfsOmitRO leaves read-only branches out of Statfs totals
func WithStatfsOmitRO(enabled bool) Option {
	return func(f *FS) {
		f.statfsOmitRO = enabled
	}
}

// WithHideMetaFiles filters .fuse_hidden* entries from listings
func WithHideMetaFiles(enabled bool) Option {
	return func(f *FS) {
		f.hideMetaFiles = enabled
	}
}

// WithCopyBufferSize sets the buffer size for copy-on-write operations
func WithCopyBufferSize(size int) Option {
	return func(f *FS) {
		if size > 0 {
			f.copyBufferSize = size
		}
	}
}

// WithMetrics installs an observer for promotions, whiteouts and listings
func WithMetrics(m Metrics) Option {
	return func(f *FS) {
		if m != nil {
			f.metrics = m
		}
	}
}

// New opens every branch and returns the union. COW is enabled by default.
func New(opts ...Option) (*FS, error) {
	f := &FS{
		cow:            true,
		copyBufferSize: defaultCopyBufferSize,
		metrics:        noopMetrics{},
		caller:         ProcessCaller(),
	}
	for _, opt := range opts {
		opt(f)
	}

	table, err := newBranchTable(f.specs)
	if err != nil {
		return nil, fmt.Errorf("branchfs: %w", err)
	}
	f.branches = table
	f.specs = nil

	for i := 0; i < table.Count(); i++ {
		b := table.Branch(i)
		logger.Debug("branch %d: %s writable=%t", b.Index, b.Root, b.Writable)
	}
	return f, nil
}

// Close releases the branch guards. The FS must not be used afterwards.
func (f *FS) Close() error {
	return f.branches.close()
}

// Name returns the name of the filesystem
func (f *FS) Name() string {
	return "branchfs"
}

// Branches returns the branch table
func (f *FS) Branches() *BranchTable {
	return f.branches
}

// COW reports whether copy-on-write is enabled
func (f *FS) COW() bool {
	return f.cow
}

// WithCaller returns a view of f whose write operations act on behalf of c.
// The view shares branches and configuration with f.
func (f *FS) WithCaller(c Caller) *FS {
	view := *f
	view.caller = c
	return &view
}

// FindLowestWritable returns the first writable branch with an index below
// ceiling, or -1.
func (f *FS) FindLowestWritable(ceiling int) int {
	return f.branches.FindLowestWritable(ceiling)
}
