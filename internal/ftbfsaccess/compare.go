package ftbfsaccess

import (
	"bytes"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Compare is the verify-against-disk FSAccess variant: every "write"
// operation instead reads/stats the existing filesystem and reports an
// *ErrDataCompareMismatch on any divergence (spec.md §4.3). Read-only
// operations (Stat/Lstat/Readlink/xattrs/Opendir) pass through to the real
// filesystem so the caller can drive comparisons off real data.
type Compare struct {
	full *Full // delegate for the genuinely read-only ops
}

func NewCompare() *Compare { return &Compare{full: NewFull()} }

// compareFile buffers written bytes so CloseCommit can diff them against
// the on-disk file in one pass.
type compareFile struct {
	path string
	buf  bytes.Buffer
}

func (f *compareFile) Read(p []byte) (int, error)            { return 0, ErrNotImplemented }
func (f *compareFile) Pread(p []byte, off int64) (int, error) { return 0, ErrNotImplemented }
func (f *compareFile) Write(p []byte) (int, error)            { return f.buf.Write(p) }
func (f *compareFile) Ftruncate(size int64) error             { return nil }
func (f *compareFile) Fstat() (fs.FileInfo, error)            { return nil, ErrNotImplemented }
func (f *compareFile) Close() error                           { return nil }

func (fa *Compare) Creat(path string, mode uint32) (File, error) {
	return &compareFile{path: path}, nil
}

func (fa *Compare) CloseCommit(f File, path string, overwrite bool) error {
	cf, ok := f.(*compareFile)
	if !ok {
		return ErrNotImplemented
	}
	got, err := os.ReadFile(path)
	if err != nil {
		return &ErrDataCompareMismatch{Path: path, Reason: "cannot read target: " + err.Error()}
	}
	if !bytes.Equal(got, cf.buf.Bytes()) {
		return &ErrDataCompareMismatch{Path: path, Reason: "content differs"}
	}
	return nil
}

func (fa *Compare) Open(path string) (File, error) { return fa.full.Open(path) }

func (fa *Compare) Stat(path string) (fs.FileInfo, error)  { return fa.full.Stat(path) }
func (fa *Compare) Lstat(path string) (fs.FileInfo, error) { return fa.full.Lstat(path) }

func (fa *Compare) Lutimes(path string, atime, mtime time.Time) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return &ErrDataCompareMismatch{Path: path, Reason: "stat failed: " + err.Error()}
	}
	if !fi.ModTime().Truncate(time.Second).Equal(mtime.Truncate(time.Second)) {
		return &ErrDataCompareMismatch{Path: path, Reason: "mtime differs"}
	}
	return nil
}

func (fa *Compare) Lchown(path string, uid, gid int) error {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return &ErrDataCompareMismatch{Path: path, Reason: "stat failed: " + err.Error()}
	}
	if int(st.Uid) != uid || int(st.Gid) != gid {
		return &ErrDataCompareMismatch{Path: path, Reason: "ownership differs"}
	}
	return nil
}

func (fa *Compare) Chmod(path string, mode uint32) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return &ErrDataCompareMismatch{Path: path, Reason: "stat failed: " + err.Error()}
	}
	if uint32(fi.Mode().Perm()) != mode&0777 {
		return &ErrDataCompareMismatch{Path: path, Reason: "mode differs"}
	}
	return nil
}

func (fa *Compare) Unlink(path string) error {
	if _, err := os.Lstat(path); err != nil {
		return &ErrDataCompareMismatch{Path: path, Reason: "expected file missing"}
	}
	return nil
}
func (fa *Compare) Rmdir(path string) error { return fa.Unlink(path) }

func (fa *Compare) Link(oldpath, newpath string) error {
	var a, b unix.Stat_t
	if err := unix.Lstat(oldpath, &a); err != nil {
		return &ErrDataCompareMismatch{Path: oldpath, Reason: "stat failed: " + err.Error()}
	}
	if err := unix.Lstat(newpath, &b); err != nil {
		return &ErrDataCompareMismatch{Path: newpath, Reason: "stat failed: " + err.Error()}
	}
	if a.Ino != b.Ino {
		return &ErrDataCompareMismatch{Path: newpath, Reason: "not hardlinked to " + oldpath}
	}
	return nil
}

func (fa *Compare) Symlink(target, path string) error {
	got, err := os.Readlink(path)
	if err != nil {
		return &ErrDataCompareMismatch{Path: path, Reason: "readlink failed: " + err.Error()}
	}
	if got != target {
		return &ErrDataCompareMismatch{Path: path, Reason: "symlink target differs"}
	}
	return nil
}

func (fa *Compare) Readlink(path string) (string, error) { return fa.full.Readlink(path) }

func (fa *Compare) Mkdir(path string, mode uint32) error {
	fi, err := os.Lstat(path)
	if err != nil || !fi.IsDir() {
		return &ErrDataCompareMismatch{Path: path, Reason: "expected directory missing"}
	}
	return nil
}

func (fa *Compare) Mknod(path string, mode uint32, dev uint64) error {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return &ErrDataCompareMismatch{Path: path, Reason: "stat failed: " + err.Error()}
	}
	if uint64(st.Rdev) != dev {
		return &ErrDataCompareMismatch{Path: path, Reason: "device number differs"}
	}
	return nil
}

func (fa *Compare) Opendir(path string) (Dir, error) { return fa.full.Opendir(path) }

func (fa *Compare) Llistxattr(path string) ([]string, error) { return fa.full.Llistxattr(path) }
func (fa *Compare) Lgetxattr(path, name string) ([]byte, error) {
	return fa.full.Lgetxattr(path, name)
}

func (fa *Compare) Lsetxattr(path, name string, value []byte) error {
	got, err := fa.full.Lgetxattr(path, name)
	if err != nil {
		return &ErrDataCompareMismatch{Path: path, Reason: "xattr " + name + " missing: " + err.Error()}
	}
	if !bytes.Equal(got, value) {
		return &ErrDataCompareMismatch{Path: path, Reason: "xattr " + name + " differs"}
	}
	return nil
}
