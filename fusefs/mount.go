package fusefs

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/absfs/branchfs"
	"github.com/absfs/branchfs/internal/logger"
)

// Options controls how the union is mounted.
type Options struct {
	// FSName is shown as the mount source
	FSName string
	// AllowOther lets users other than the mounting one access the union
	AllowOther bool
	// RelaxedPermissions skips kernel permission checks and leaves them to
	// the branches
	RelaxedPermissions bool
	// Debug logs every kernel request
	Debug bool

	EntryTimeout time.Duration
	AttrTimeout  time.Duration
}

// Mount mounts fsys at dir. The caller must Unmount the returned server.
func Mount(dir string, fsys *branchfs.FS, opts Options) (*fuse.Server, error) {
	root, err := NewRoot(fsys)
	if err != nil {
		return nil, err
	}
	server, err := fs.Mount(dir, root, mountOptions(opts))
	if err != nil {
		return nil, err
	}
	logger.Info("mounted %d branches at %s", fsys.Branches().Count(), dir)
	return server, nil
}

func mountOptions(opts Options) *fs.Options {
	entry := opts.EntryTimeout
	attr := opts.AttrTimeout

	mo := fuse.MountOptions{
		AllowOther: opts.AllowOther,
		FsName:     opts.FSName,
		Name:       "branchfs",
		Debug:      opts.Debug,
	}
	if !opts.RelaxedPermissions {
		mo.Options = append(mo.Options, "default_permissions")
	}

	return &fs.Options{
		MountOptions: mo,
		EntryTimeout: &entry,
		AttrTimeout:  &attr,
	}
}
