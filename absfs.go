package branchfs

import (
	"io/fs"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/absfs/absfs"
)

// absFSAdapter gives the union a working directory. Every method resolves
// relative names against it before calling into FS.
type absFSAdapter struct {
	fs *FS

	mu  sync.RWMutex
	cwd string
}

// Ensure FS and absFSAdapter implement the absfs interfaces at compile time
var (
	_ absfs.Filer     = (*FS)(nil)
	_ absfs.Filer     = (*absFSAdapter)(nil)
	_ absfs.SymLinker = (*absFSAdapter)(nil)
)

// FileSystem returns an absfs.FileSystem view of the union.
// The returned FileSystem maintains its own working directory state
// and provides the full absfs.FileSystem interface including convenience
// methods like Open, Create, MkdirAll, RemoveAll, and Truncate.
//
// Example:
//
//	union, err := branchfs.New(
//	    branchfs.WithBranch("/srv/overlay", true),
//	    branchfs.WithBranch("/srv/base", false),
//	)
//	if err != nil {
//	    return err
//	}
//	fs := union.FileSystem()
//	fs.Chdir("/app")
//	file, err := fs.Open("config.yml") // Uses current working directory
func (f *FS) FileSystem() absfs.FileSystem {
	return absfs.ExtendFiler(&absFSAdapter{fs: f, cwd: "/"})
}

// SymlinkFileSystem is FileSystem with Lstat, Lchown, Readlink and Symlink.
func (f *FS) SymlinkFileSystem() absfs.SymlinkFileSystem {
	return f.FileSystem().(absfs.SymlinkFileSystem)
}

func (a *absFSAdapter) abs(name string) string {
	if path.IsAbs(name) {
		return cleanPath(name)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cleanPath(path.Join(a.cwd, name))
}

// Chdir changes the working directory of this view
func (a *absFSAdapter) Chdir(dir string) error {
	dir = a.abs(dir)
	info, err := a.fs.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return pathError("chdir", dir, syscall.ENOTDIR)
	}
	a.mu.Lock()
	a.cwd = dir
	a.mu.Unlock()
	return nil
}

// Getwd returns the working directory of this view
func (a *absFSAdapter) Getwd() (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cwd, nil
}

// TempDir returns the directory used for temporary files inside the union
func (a *absFSAdapter) TempDir() string {
	return "/tmp"
}

func (a *absFSAdapter) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return a.fs.OpenFile(a.abs(name), flag, perm)
}

func (a *absFSAdapter) Open(name string) (absfs.File, error) {
	return a.fs.Open(a.abs(name))
}

func (a *absFSAdapter) Create(name string) (absfs.File, error) {
	return a.fs.Create(a.abs(name))
}

func (a *absFSAdapter) Mkdir(name string, perm os.FileMode) error {
	return a.fs.Mkdir(a.abs(name), perm)
}

func (a *absFSAdapter) MkdirAll(name string, perm os.FileMode) error {
	return a.fs.MkdirAll(a.abs(name), perm)
}

func (a *absFSAdapter) Remove(name string) error {
	return a.fs.Remove(a.abs(name))
}

func (a *absFSAdapter) RemoveAll(name string) error {
	return a.fs.RemoveAll(a.abs(name))
}

func (a *absFSAdapter) Rename(oldpath, newpath string) error {
	return a.fs.Rename(a.abs(oldpath), a.abs(newpath))
}

func (a *absFSAdapter) Stat(name string) (os.FileInfo, error) {
	return a.fs.Stat(a.abs(name))
}

func (a *absFSAdapter) Chmod(name string, mode os.FileMode) error {
	return a.fs.Chmod(a.abs(name), mode)
}

func (a *absFSAdapter) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return a.fs.Chtimes(a.abs(name), atime, mtime)
}

func (a *absFSAdapter) Chown(name string, uid, gid int) error {
	return a.fs.Chown(a.abs(name), uid, gid)
}

func (a *absFSAdapter) Truncate(name string, size int64) error {
	return a.fs.Truncate(a.abs(name), size)
}

func (a *absFSAdapter) ReadDir(name string) ([]fs.DirEntry, error) {
	return a.fs.ReadDir(a.abs(name))
}

func (a *absFSAdapter) ReadFile(name string) ([]byte, error) {
	return a.fs.ReadFile(a.abs(name))
}

func (a *absFSAdapter) Sub(dir string) (fs.FS, error) {
	return a.fs.Sub(a.abs(dir))
}

func (a *absFSAdapter) Lstat(name string) (os.FileInfo, error) {
	return a.fs.Lstat(a.abs(name))
}

func (a *absFSAdapter) Lchown(name string, uid, gid int) error {
	return a.fs.Lchown(a.abs(name), uid, gid)
}

func (a *absFSAdapter) Readlink(name string) (string, error) {
	return a.fs.Readlink(a.abs(name))
}

func (a *absFSAdapter) Symlink(oldname, newname string) error {
	return a.fs.Symlink(oldname, a.abs(newname))
}
