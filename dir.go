package branchfs

import (
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"syscall"
)

// List returns the sorted, de-duplicated names of directory p across all
// branches. A name is taken from the highest-priority branch that has it,
// unless a whiteout on a higher-priority branch masks it. Branches below a
// whiteout of p itself do not contribute.
func (f *FS) List(p string) ([]string, error) {
	infos, err := f.listInfos(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

// listInfos is List returning the lstat of each authoritative entry.
func (f *FS) listInfos(p string) ([]os.FileInfo, error) {
	p = cleanPath(p)
	_, info, err := f.lookup(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, pathError("readdir", p, ErrNotDir)
	}

	seen := make(map[string]bool)
	masked := make(map[string]bool)
	var entries []os.FileInfo

	for i := 0; i < f.branches.Count(); i++ {
		real, err := f.branches.realPath(i, p)
		if err != nil {
			return nil, err
		}
		dirEntries, err := os.ReadDir(real)
		if err != nil && !isAbsent(err) {
			return nil, pathError("readdir", p, err)
		}

		for _, entry := range dirEntries {
			name := entry.Name()
			if f.skipName(p, name) || seen[name] || masked[name] {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				if isAbsent(err) {
					continue
				}
				return nil, pathError("readdir", p, err)
			}
			seen[name] = true
			entries = append(entries, info)
		}

		if !f.cow {
			continue
		}
		// markers on this branch only mask the branches after it
		if err := f.collectMarkers(p, i, masked); err != nil {
			return nil, err
		}
		hidden, err := f.IsHidden(p, i)
		if err != nil {
			return nil, err
		}
		if hidden {
			break
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	f.metrics.ObserveListing(len(entries))
	return entries, nil
}

// skipName reports whether a physical directory entry never appears in the
// union view.
func (f *FS) skipName(dir, name string) bool {
	if dir == "/" && name == MetaDirName {
		return true
	}
	if isMarkerName(name) {
		return true
	}
	return f.hideMetaFiles && strings.HasPrefix(name, fuseHiddenPrefix)
}

// collectMarkers adds the names hidden by markers of directory p on branch
// to masked.
func (f *FS) collectMarkers(p string, branch int, masked map[string]bool) error {
	meta, err := composePath(f.branches.Branch(branch).Root, MetaDirName, p)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(meta)
	if err != nil {
		if isAbsent(err) {
			return nil
		}
		return pathError("readdir", p, err)
	}
	for _, entry := range entries {
		if name := entry.Name(); isMarkerName(name) {
			masked[strings.TrimSuffix(name, HideTag)] = true
		}
	}
	return nil
}

// IsEmptyMerged reports whether directory p has no entries in the union
// view, whatever its writable copy contains.
func (f *FS) IsEmptyMerged(p string) (bool, error) {
	names, err := f.List(p)
	if err != nil {
		return false, err
	}
	return len(names) == 0, nil
}

// mergedDir is the handle returned when a directory is opened. Its entries
// are the merged listing, loaded on first use.
type mergedDir struct {
	fs      *FS
	path    string
	entries []os.FileInfo
	offset  int
	closed  bool
}

func newMergedDir(f *FS, p string) *mergedDir {
	return &mergedDir{fs: f, path: p}
}

// Close closes the directory
func (d *mergedDir) Close() error {
	if d.closed {
		return os.ErrClosed
	}
	d.closed = true
	return nil
}

// Name returns the union path of the directory
func (d *mergedDir) Name() string {
	return d.path
}

func (d *mergedDir) Read(p []byte) (int, error) {
	return 0, pathError("read", d.path, syscall.EISDIR)
}

func (d *mergedDir) ReadAt(p []byte, off int64) (int, error) {
	return 0, pathError("read", d.path, syscall.EISDIR)
}

func (d *mergedDir) Write(p []byte) (int, error) {
	return 0, pathError("write", d.path, syscall.EISDIR)
}

func (d *mergedDir) WriteAt(p []byte, off int64) (int, error) {
	return 0, pathError("write", d.path, syscall.EISDIR)
}

func (d *mergedDir) WriteString(s string) (int, error) {
	return 0, pathError("write", d.path, syscall.EISDIR)
}

func (d *mergedDir) Truncate(size int64) error {
	return pathError("truncate", d.path, syscall.EISDIR)
}

// Sync is a no-op for directories
func (d *mergedDir) Sync() error {
	return nil
}

// Stat returns the FileInfo of the authoritative directory
func (d *mergedDir) Stat() (os.FileInfo, error) {
	if d.closed {
		return nil, os.ErrClosed
	}
	return d.fs.Stat(d.path)
}

// Seek repositions the listing. Only offset 0 relative to the start is
// meaningful to callers; other values are clamped to the listing bounds.
func (d *mergedDir) Seek(offset int64, whence int) (int64, error) {
	if d.closed {
		return 0, os.ErrClosed
	}
	if err := d.load(); err != nil {
		return 0, err
	}

	switch whence {
	case io.SeekStart:
		d.offset = int(offset)
	case io.SeekCurrent:
		d.offset += int(offset)
	case io.SeekEnd:
		d.offset = len(d.entries) + int(offset)
	default:
		return 0, pathError("seek", d.path, os.ErrInvalid)
	}
	if d.offset < 0 {
		d.offset = 0
	}
	if d.offset > len(d.entries) {
		d.offset = len(d.entries)
	}
	return int64(d.offset), nil
}

func (d *mergedDir) load() error {
	if d.entries != nil {
		return nil
	}
	entries, err := d.fs.listInfos(d.path)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []os.FileInfo{}
	}
	d.entries = entries
	return nil
}

// next returns up to n entries following the os.File paging contract.
func (d *mergedDir) next(n int) ([]os.FileInfo, error) {
	if d.closed {
		return nil, os.ErrClosed
	}
	if err := d.load(); err != nil {
		return nil, err
	}

	remaining := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return remaining, nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	if n > len(remaining) {
		n = len(remaining)
	}
	d.offset += n
	return remaining[:n], nil
}

// Readdir reads directory entries
func (d *mergedDir) Readdir(n int) ([]os.FileInfo, error) {
	return d.next(n)
}

// Readdirnames reads directory entry names
func (d *mergedDir) Readdirnames(n int) ([]string, error) {
	infos, err := d.next(n)
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, err
}

// ReadDir reads directory entries as fs.DirEntry values
func (d *mergedDir) ReadDir(n int) ([]fs.DirEntry, error) {
	infos, err := d.next(n)
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, err
}

// ReadDir returns the merged entries of directory name sorted by filename.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	infos, err := f.listInfos(name)
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}
