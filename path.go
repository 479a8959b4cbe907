package branchfs

import (
	"path"
	"strings"
)

const (
	// MaxPathLen bounds every real path the engine composes
	MaxPathLen = 1024
	// MetaDirName is the reserved directory at each branch root that mirrors
	// the namespace and holds whiteout markers
	MetaDirName = ".branchfs"
	// HideTag is appended to a leaf name to form its whiteout marker name
	HideTag = "_HIDDEN~"
	// fuseHiddenPrefix names the files the kernel leaves behind for unlinked
	// but still open files
	fuseHiddenPrefix = ".fuse_hidden"
)

// cleanPath normalizes a virtual path to an absolute, slash-separated form.
func cleanPath(p string) string {
	cleaned := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return cleaned
}

// composePath joins a branch root with virtual path elements. The result is
// never truncated: anything longer than MaxPathLen fails with ErrNameTooLong.
func composePath(root string, elems ...string) (string, error) {
	p := root
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		p = strings.TrimSuffix(p, "/") + "/" + e
	}
	if len(p) > MaxPathLen {
		return "", pathError("compose", path.Join(append([]string{"/"}, elems...)...), ErrNameTooLong)
	}
	return p, nil
}

// splitPath splits a virtual path into its components
func splitPath(p string) []string {
	p = cleanPath(p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// prefixes returns every ancestor of p from the root down to p itself,
// excluding "/" ("/a/b" yields "/a", "/a/b").
func prefixes(p string) []string {
	parts := splitPath(p)
	out := make([]string, 0, len(parts))
	cur := ""
	for _, part := range parts {
		cur += "/" + part
		out = append(out, cur)
	}
	return out
}

// isMarkerName reports whether a directory entry name is a whiteout marker.
func isMarkerName(name string) bool {
	return strings.HasSuffix(name, HideTag) && len(name) > len(HideTag)
}

// isReserved reports whether p lies inside the metadata subtree.
func isReserved(p string) bool {
	parts := splitPath(p)
	return len(parts) > 0 && parts[0] == MetaDirName
}

// isForbiddenName reports whether p cannot be created through the union:
// it lies in the metadata subtree or its leaf would read as a marker.
func isForbiddenName(p string) bool {
	return isReserved(p) || isMarkerName(path.Base(cleanPath(p)))
}
