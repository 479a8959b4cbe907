/*
Package branchfs presents several ordered directory trees ("branches") as a
single writable namespace, the way a FUSE union filesystem does.

# Overview

Each branch is a directory on the host and is either writable or read-only.
Branches are searched in the order they were configured; the first branch
that holds a path is authoritative for it. Directories merge: listing a
directory shows the union of its entries on every branch.

Read-only branches are never modified. When an entry that lives on a
read-only branch is written, it is first copied (promoted) to the writable
branch with the lowest index above it, so the copy shadows the original from
then on. Deletions are recorded as whiteout markers.

# On-disk layout

Every branch mirrors the union namespace one to one. Whiteout markers live
in a reserved directory at each branch root:

	<branch>/.branchfs/<path>_HIDDEN~

An empty file hides a deleted file, an empty directory a deleted directory.
A marker on branch b hides the path (and everything beneath it) on b and on
every branch after b. The reserved directory never appears in listings and
cannot be created or opened through the union.

# Basic Usage

	package main

	import (
	    "log"
	    "os"

	    "github.com/absfs/branchfs"
	)

	func main() {
	    union, err := branchfs.New(
	        branchfs.WithBranch("/srv/overlay", true),
	        branchfs.WithBranch("/srv/base", false),
	    )
	    if err != nil {
	        log.Fatal(err)
	    }
	    defer union.Close()

	    // Reads fall through to the base branch
	    data, err := union.ReadFile("/etc/config.yml")

	    // Writing promotes the file to the overlay first
	    f, err := union.OpenFile("/etc/config.yml", os.O_RDWR, 0)

	    // Removing an entry of the base branch leaves a whiteout
	    err = union.Remove("/etc/obsolete.conf")
	}

# Engine operations

The convenience methods above are built on a small set of engine
operations, which adapters can also call directly:

  - ResolveAny finds the authoritative branch of a path
  - ResolveWritable promotes a path if needed and returns a writable branch
  - ResolveForNewEntry picks and prepares the branch for a new entry
  - List and IsEmptyMerged give the merged view of a directory
  - RemoveEntry deletes through the union
  - Hide and Unhide manage whiteout markers directly

Write-path operations take a Caller, the identity the operation acts for.
It decides who owns new entries and whether setuid and setgid bits survive a
promotion. WithCaller binds one to the convenience methods; package fusefs
uses it to act for the process behind each kernel request.

# Errors

Errors are *fs.PathError values reported against union paths. Their cause is
one of the errno sentinels (ErrNotFound, ErrPermission, ErrNameTooLong,
ErrCrossBranch, ErrNotEmpty, ErrNotDir, ErrUnsupported) or the error of the
underlying system call, so errors.Is works with both the sentinels and the
io/fs errors.

# Concurrency

FS is immutable after New and may be used from many goroutines. No lock is
taken around a promotion, so a promotion racing a deletion of the same path
can leave either outcome.

# absfs

FileSystem and SymlinkFileSystem expose the union as an absfs.FileSystem
with its own working directory.

# Platform

Promotion relies on Linux stat and mknod semantics.
*/
package branchfs
