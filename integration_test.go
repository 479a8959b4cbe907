package branchfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// TestSymlinkBasic tests basic symlink functionality
func TestSymlinkBasic(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	seed(t, dirs[1], "/data/target.txt", "target content")

	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], false))

	if err := ufs.Symlink("data/target.txt", "/link.txt"); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	target, err := ufs.Readlink("/link.txt")
	if err != nil {
		t.Fatalf("failed to read symlink: %v", err)
	}
	if target != "data/target.txt" {
		t.Errorf("expected 'data/target.txt', got '%s'", target)
	}

	// the relative target lives on another branch and still resolves
	data, err := readFile(ufs, "/link.txt")
	if err != nil {
		t.Fatalf("failed to read through symlink: %v", err)
	}
	if string(data) != "target content" {
		t.Errorf("expected 'target content', got '%s'", string(data))
	}

	info, err := ufs.Lstat("/link.txt")
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Errorf("Lstat should not follow the link, got %v", info.Mode())
	}

	if err := ufs.Symlink("x", "/link.txt"); !errors.Is(err, os.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}
}

// TestSymlinkLoop tests that cyclic links fail instead of spinning
func TestSymlinkLoop(t *testing.T) {
	dirs := newBranchDirs(t, 1)
	ufs := mustNew(t, WithBranch(dirs[0], true))

	if err := ufs.Symlink("b", "/a"); err != nil {
		t.Fatal(err)
	}
	if err := ufs.Symlink("a", "/b"); err != nil {
		t.Fatal(err)
	}
	if _, err := ufs.Stat("/a"); !errors.Is(err, syscall.ELOOP) {
		t.Errorf("expected ELOOP, got %v", err)
	}
}

// TestComplexBranchHierarchy tests a container-image style stack
func TestComplexBranchHierarchy(t *testing.T) {
	dirs := newBranchDirs(t, 4)
	custom, app, runtime, baseOS := dirs[0], dirs[1], dirs[2], dirs[3]
	seed(t, baseOS, "/bin/sh", "shell")
	seed(t, baseOS, "/etc/passwd", "root:x:0:0")
	seed(t, runtime, "/lib/libc.so", "libc")
	seed(t, app, "/app/server", "server binary")
	seed(t, app, "/etc/app.conf", "app config")

	ufs := mustNew(t,
		WithBranch(custom, true),
		WithBranch(app, false),
		WithBranch(runtime, false),
		WithBranch(baseOS, false),
	)

	tests := []struct {
		path    string
		content string
	}{
		{"/bin/sh", "shell"},
		{"/lib/libc.so", "libc"},
		{"/app/server", "server binary"},
		{"/etc/app.conf", "app config"},
	}
	for _, tt := range tests {
		data, err := readFile(ufs, tt.path)
		if err != nil {
			t.Errorf("failed to read %s: %v", tt.path, err)
			continue
		}
		if string(data) != tt.content {
			t.Errorf("%s: expected '%s', got '%s'", tt.path, tt.content, string(data))
		}
	}

	expected := "root:x:0:0\nuser:x:1000:1000"
	if err := writeFile(ufs, "/etc/passwd", []byte(expected), 0644); err != nil {
		t.Fatal(err)
	}
	data, err := readFile(ufs, "/etc/passwd")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != expected {
		t.Errorf("expected '%s', got '%s'", expected, string(data))
	}
	data, err = os.ReadFile(filepath.Join(baseOS, "etc", "passwd"))
	if err != nil || string(data) != "root:x:0:0" {
		t.Error("base branch was modified")
	}

	if err := ufs.Remove("/etc/app.conf"); err != nil {
		t.Fatal(err)
	}
	if _, err := ufs.Stat("/etc/app.conf"); err == nil {
		t.Error("deleted file should not be visible")
	}
	if !onHost(app, "/etc/app.conf") {
		t.Error("file should still exist in app branch")
	}

	names, err := readDir(ufs, "/etc")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "passwd" {
		t.Errorf("expected [passwd], got %v", names)
	}
}

// TestConcurrentAccess tests concurrent readers
func TestConcurrentAccess(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	for i := 0; i < 100; i++ {
		seed(t, dirs[1], fmt.Sprintf("/file%d.txt", i), "content")
	}

	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], false))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := ufs.Stat(fmt.Sprintf("/file%d.txt", j%100)); err != nil {
					t.Errorf("concurrent read failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()
}

// TestConcurrentCreatesInReadOnlyDirectory tests that parents materialized
// by several writers at once do not fail any of them
func TestConcurrentCreatesInReadOnlyDirectory(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	seed(t, dirs[1], "/shared/deep/base.txt", "base")

	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], false))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("/shared/deep/new%d.txt", i)
			if err := writeFile(ufs, name, []byte("x"), 0644); err != nil {
				t.Errorf("create %s failed: %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	names, err := readDir(ufs, "/shared/deep")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 17 {
		t.Errorf("expected 17 entries, got %d", len(names))
	}
}

// TestRenameAcrossBranches tests renaming a file that lives on a lower branch
func TestRenameAcrossBranches(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	seed(t, dirs[1], "/old.txt", "content")

	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], false))

	if err := ufs.Rename("/old.txt", "/new.txt"); err != nil {
		t.Fatalf("failed to rename: %v", err)
	}

	if _, err := ufs.Stat("/old.txt"); err == nil {
		t.Error("old file should not exist")
	}
	data, err := readFile(ufs, "/new.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content" {
		t.Error("content mismatch after rename")
	}
	if !onHost(dirs[1], "/old.txt") {
		t.Error("base branch should still have old file")
	}
	if _, err := os.Lstat(hostMarker(dirs[0], "/old.txt")); err != nil {
		t.Error("whiteout should exist for renamed file")
	}
}

// TestRenameCrossBranch tests a destination owned by another writable branch
func TestRenameCrossBranch(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	seed(t, dirs[0], "/a.txt", "a")
	seed(t, dirs[1], "/b.txt", "b")

	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], true))

	err := ufs.Rename("/a.txt", "/b.txt")
	if !errors.Is(err, ErrCrossBranch) {
		t.Fatalf("expected ErrCrossBranch, got %v", err)
	}
	var le *os.LinkError
	if !errors.As(err, &le) || le.Old != "/a.txt" || le.New != "/b.txt" {
		t.Errorf("expected *os.LinkError with virtual paths, got %#v", err)
	}
	if !onHost(dirs[0], "/a.txt") || !onHost(dirs[1], "/b.txt") {
		t.Error("a refused rename must not move anything")
	}
}

// TestRenameReplacesLowerEntry tests that a rename onto a lower name hides it
func TestRenameReplacesLowerEntry(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	seed(t, dirs[0], "/src.txt", "new")
	seed(t, dirs[1], "/dst.txt", "old")

	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], false))

	if err := ufs.Rename("/src.txt", "/dst.txt"); err != nil {
		t.Fatalf("failed to rename: %v", err)
	}
	data, err := readFile(ufs, "/dst.txt")
	if err != nil || string(data) != "new" {
		t.Errorf("expected 'new', got %q %v", data, err)
	}
	if _, err := ufs.Stat("/src.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("source should be gone, got %v", err)
	}
}

// TestLink tests hard links across the union
func TestLink(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	seed(t, dirs[0], "/upper.txt", "upper")
	seed(t, dirs[1], "/lower.txt", "lower")
	seedDir(t, dirs[1], "/dir")

	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], false))

	if err := ufs.Link("/upper.txt", "/upper-link.txt"); err != nil {
		t.Fatalf("failed to link: %v", err)
	}
	a, _ := os.Stat(filepath.Join(dirs[0], "upper.txt"))
	b, _ := os.Stat(filepath.Join(dirs[0], "upper-link.txt"))
	if a == nil || b == nil || !os.SameFile(a, b) {
		t.Error("link should share the inode of its source")
	}

	if err := ufs.Link("/lower.txt", "/dir/lower-link.txt"); err != nil {
		t.Fatalf("failed to link a lower file: %v", err)
	}
	if !onHost(dirs[0], "/lower.txt") || !onHost(dirs[0], "/dir/lower-link.txt") {
		t.Error("source should be promoted and the link created next to it")
	}

	if err := ufs.Link("/dir", "/dir-link"); !errors.Is(err, syscall.EPERM) {
		t.Errorf("expected EPERM linking a directory, got %v", err)
	}
	if err := ufs.Link("/upper.txt", "/lower.txt"); !errors.Is(err, os.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}
}

// TestLinkMaterializesParentOnSourceBranch tests links whose parent lives
// on another writable branch
func TestLinkMaterializesParentOnSourceBranch(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	seedDir(t, dirs[0], "/sub")
	seed(t, dirs[1], "/src.txt", "x")

	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], true))

	if err := ufs.Link("/src.txt", "/sub/link.txt"); err != nil {
		t.Fatalf("failed to link: %v", err)
	}
	if !onHost(dirs[1], "/sub/link.txt") {
		t.Error("link should be created on the source branch")
	}
}

// TestMetadataOperations tests Chmod, Chown, Chtimes with copy-on-write
func TestMetadataOperations(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	seed(t, dirs[1], "/test.txt", "content")
	seed(t, dirs[1], "/times.txt", "content")
	seed(t, dirs[1], "/owned.txt", "content")

	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], false))

	if err := ufs.Chmod("/test.txt", 0600); err != nil {
		t.Fatalf("failed to chmod: %v", err)
	}
	if !onHost(dirs[0], "/test.txt") {
		t.Error("file should be copied up after chmod")
	}
	info, err := ufs.Stat("/test.txt")
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600, got %o", info.Mode().Perm())
	}

	mtime := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := ufs.Chtimes("/times.txt", mtime, mtime); err != nil {
		t.Fatalf("failed to chtimes: %v", err)
	}
	info, err = ufs.Stat("/times.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("expected mtime %v, got %v", mtime, info.ModTime())
	}

	if err := ufs.Chown("/owned.txt", os.Getuid(), os.Getgid()); err != nil {
		t.Fatalf("failed to chown: %v", err)
	}
	if !onHost(dirs[0], "/owned.txt") {
		t.Error("file should be copied up after chown")
	}

	info, err = os.Stat(filepath.Join(dirs[1], "test.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0644 {
		t.Error("base branch permissions were modified")
	}
}

// TestMknod tests creating a fifo through the union
func TestMknod(t *testing.T) {
	dirs := newBranchDirs(t, 2)
	seedDir(t, dirs[1], "/run")
	ufs := mustNew(t, WithBranch(dirs[0], true), WithBranch(dirs[1], false))

	if err := ufs.Mknod("/run/pipe", unix.S_IFIFO|0644, 0); err != nil {
		t.Fatalf("failed to mknod: %v", err)
	}
	info, err := ufs.Lstat("/run/pipe")
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Errorf("expected a fifo, got %v", info.Mode())
	}
	if !onHost(dirs[0], "/run/pipe") {
		t.Error("fifo should be created on the writable branch")
	}
}

// TestWithCaller tests that caller views share the branches
func TestWithCaller(t *testing.T) {
	dirs := newBranchDirs(t, 1)
	ufs := mustNew(t, WithBranch(dirs[0], true))

	view := ufs.WithCaller(ProcessCaller())
	if view == ufs {
		t.Fatal("WithCaller should return a new view")
	}
	if err := writeFile(view, "/a.txt", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ufs.Stat("/a.txt"); err != nil {
		t.Errorf("views should share branches: %v", err)
	}
}
