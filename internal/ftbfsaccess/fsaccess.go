// Package ftbfsaccess implements the FSAccess capability interface spec.md
// §4.3/§9 describes: a closed set of three variants (full restore, compare
// against disk, null/list-only) that the restore engine drives through one
// interface, modeled on the teacher's pattern of expressing closed variant
// sets as interfaces with a handful of concrete implementations (squashfs's
// inode-kind switch, batch's per-architecture build context).
package ftbfsaccess

import (
	"io/fs"
	"time"

	"golang.org/x/xerrors"
)

// ErrNotImplemented is returned by every write operation of the null
// variant.
var ErrNotImplemented = xerrors.New("ftbfsaccess: not implemented")

// ErrDataCompareMismatch is the compare-mode taxonomy member spec.md §7
// calls a "distinct pseudo-errno": the restore loop logs it and keeps
// walking rather than aborting.
type ErrDataCompareMismatch struct {
	Path   string
	Reason string
}

func (e *ErrDataCompareMismatch) Error() string {
	return "ftbfsaccess: compare mismatch at " + e.Path + ": " + e.Reason
}

// File is the open-file handle abstraction write operations act through.
// The null variant's File is always nil; callers must not dereference it.
type File interface {
	Read(p []byte) (int, error)
	Pread(p []byte, off int64) (int, error)
	Write(p []byte) (int, error)
	Ftruncate(size int64) error
	Fstat() (fs.FileInfo, error)
	// Close discards the handle without installing it; CloseCommit (on
	// the FSAccess, not here) installs it at its final path.
	Close() error
}

// Dir is the open-directory handle abstraction for Scandir/Readdir.
type Dir interface {
	Readdir() ([]string, error) // sorted child names, one Readdir call returns them all
	Close() error
}

// FSAccess is the capability interface the restore engine uses to effect
// (or merely check, or refuse) every filesystem change spec.md §4.3 lists.
type FSAccess interface {
	// Open/Create, regular files.
	Creat(path string, mode uint32) (File, error)
	// CloseCommit installs a file opened with Creat at its final path
	// (the create-temp-then-atomic-rename sequence spec.md §4.3
	// describes for regular-file restore); overwrite controls whether an
	// existing file at path is replaced.
	CloseCommit(f File, path string, overwrite bool) error
	Open(path string) (File, error)

	Stat(path string) (fs.FileInfo, error)
	Lstat(path string) (fs.FileInfo, error)

	Lutimes(path string, atime, mtime time.Time) error
	Lchown(path string, uid, gid int) error
	Chmod(path string, mode uint32) error

	Unlink(path string) error
	Rmdir(path string) error
	Link(oldpath, newpath string) error
	Symlink(target, path string) error
	Readlink(path string) (string, error)

	Mkdir(path string, mode uint32) error
	Mknod(path string, mode uint32, dev uint64) error

	Opendir(path string) (Dir, error)

	Llistxattr(path string) ([]string, error)
	Lgetxattr(path, name string) ([]byte, error)
	Lsetxattr(path, name string, value []byte) error
}
