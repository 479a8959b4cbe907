package config

import (
	"fmt"
	"strings"
)

// branchSep separates branches in the compact syntax
const branchSep = ":"

// ParseBranches parses the compact branch syntax "/a=RW:/b=RO". A branch
// without a mode is read-write when it comes first and read-only
// otherwise. Modes are case-insensitive.
func ParseBranches(s string) ([]BranchConfig, error) {
	var branches []BranchConfig
	for i, part := range strings.Split(s, branchSep) {
		if part == "" {
			return nil, fmt.Errorf("branch %d: empty path", i)
		}

		path, mode, hasMode := strings.Cut(part, "=")
		if path == "" {
			return nil, fmt.Errorf("branch %d: empty path", i)
		}

		b := BranchConfig{Path: path, Writable: i == 0}
		if hasMode {
			switch strings.ToUpper(mode) {
			case "RW":
				b.Writable = true
			case "RO":
				b.Writable = false
			default:
				return nil, fmt.Errorf("branch %d: invalid mode %q, want RW or RO", i, mode)
			}
		}
		branches = append(branches, b)
	}
	return branches, nil
}

// FormatBranches renders branches in the compact syntax.
func FormatBranches(branches []BranchConfig) string {
	parts := make([]string, len(branches))
	for i, b := range branches {
		mode := "RO"
		if b.Writable {
			mode = "RW"
		}
		parts[i] = b.Path + "=" + mode
	}
	return strings.Join(parts, branchSep)
}
