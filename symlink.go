package branchfs

import (
	"os"
	"path"
	"syscall"
)

// maxSymlinkHops bounds symlink resolution the way the kernel does
const maxSymlinkHops = 40

// follow resolves name through symlinks. Relative targets are looked up in
// the union; absolute targets are host paths, as they are for a mounted
// union, and come back with Branch -1. The returned string is the final
// union path.
func (f *FS) follow(name string) (string, Resolution, os.FileInfo, error) {
	orig := cleanPath(name)
	name = orig
	for hop := 0; hop < maxSymlinkHops; hop++ {
		r, info, err := f.lookup(name)
		if err != nil {
			return "", Resolution{}, nil, err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return name, r, info, nil
		}
		target, err := os.Readlink(r.RealPath)
		if err != nil {
			return "", Resolution{}, nil, pathError("readlink", name, err)
		}
		if path.IsAbs(target) {
			info, err := os.Stat(target)
			if err != nil {
				return "", Resolution{}, nil, pathError("stat", orig, err)
			}
			return target, Resolution{Branch: -1, RealPath: target}, info, nil
		}
		name = cleanPath(path.Join(path.Dir(name), target))
	}
	return "", Resolution{}, nil, pathError("stat", orig, syscall.ELOOP)
}

// Readlink returns the destination of a symlink
func (f *FS) Readlink(name string) (string, error) {
	name = cleanPath(name)
	r, err := f.ResolveAny(name)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(r.RealPath)
	if err != nil {
		return "", pathError("readlink", name, err)
	}
	return target, nil
}

// Symlink creates newname as a symbolic link to oldname. The target is
// stored verbatim and resolved by the host, so absolute targets point
// outside the union.
func (f *FS) Symlink(oldname, newname string) error {
	newname = cleanPath(newname)
	r, err := f.newEntry("symlink", newname)
	if err != nil {
		return err
	}
	if err := os.Symlink(oldname, r.RealPath); err != nil {
		return pathError("symlink", newname, err)
	}
	return f.finishCreate(newname, r)
}

// Lchown changes the owner of the named entry without following symlinks,
// promoting it first
func (f *FS) Lchown(name string, uid, gid int) error {
	name = cleanPath(name)
	r, err := f.ResolveWritable(f.caller, name)
	if err != nil {
		return err
	}
	if err := os.Lchown(r.RealPath, uid, gid); err != nil {
		return pathError("lchown", name, err)
	}
	return nil
}
