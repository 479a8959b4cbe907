package branchfs

import (
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Statfs aggregates space accounting over the branches. Branches sharing a
// device are counted once, read-only branches contribute capacity but no
// free space, and with WithStatfsOmitRO they are left out entirely. Block
// counts are scaled to the block size of the first counted branch.
func (f *FS) Statfs() (unix.Statfs_t, error) {
	n := f.branches.Count()
	stats := make([]unix.Statfs_t, n)
	devs := make([]uint64, n)
	skip := make([]bool, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		if f.statfsOmitRO && !f.branches.IsWritable(i) {
			skip[i] = true
			continue
		}
		i := i
		g.Go(func() error {
			root := f.branches.Branch(i).Root
			var st unix.Stat_t
			if err := unix.Stat(root, &st); err != nil {
				return pathError("statfs", root, err)
			}
			devs[i] = uint64(st.Dev)
			if err := unix.Statfs(root, &stats[i]); err != nil {
				return pathError("statfs", root, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return unix.Statfs_t{}, err
	}

	var out unix.Statfs_t
	seen := make(map[uint64]bool)
	first := true
	for i := 0; i < n; i++ {
		if skip[i] || seen[devs[i]] {
			continue
		}
		seen[devs[i]] = true

		st := stats[i]
		if !f.branches.IsWritable(i) {
			st.Bfree, st.Bavail, st.Ffree = 0, 0, 0
		}
		if first {
			out = st
			first = false
			continue
		}

		ratio := 1.0
		if out.Bsize > 0 {
			ratio = float64(st.Bsize) / float64(out.Bsize)
		}
		out.Blocks += uint64(float64(st.Blocks) * ratio)
		out.Bfree += uint64(float64(st.Bfree) * ratio)
		out.Bavail += uint64(float64(st.Bavail) * ratio)
		out.Files += st.Files
		out.Ffree += st.Ffree
		if st.Namelen < out.Namelen {
			out.Namelen = st.Namelen
		}
	}
	return out, nil
}
