package ftbfsaccess

import (
	"io/fs"
	"time"
)

// Null is the list-only FSAccess variant: every operation returns
// ErrNotImplemented (spec.md §4.3), so a restore driven through it fails at
// its first filesystem operation. Walking headers without touching any
// filesystem is done by ftbreader's List, which takes no FSAccess.
type Null struct{}

func NewNull() *Null { return &Null{} }

func (fa *Null) Creat(path string, mode uint32) (File, error)     { return nil, ErrNotImplemented }
func (fa *Null) CloseCommit(File, string, bool) error              { return ErrNotImplemented }
func (fa *Null) Open(path string) (File, error)                    { return nil, ErrNotImplemented }
func (fa *Null) Stat(path string) (fs.FileInfo, error)              { return nil, ErrNotImplemented }
func (fa *Null) Lstat(path string) (fs.FileInfo, error)             { return nil, ErrNotImplemented }
func (fa *Null) Lutimes(string, time.Time, time.Time) error         { return ErrNotImplemented }
func (fa *Null) Lchown(string, int, int) error                      { return ErrNotImplemented }
func (fa *Null) Chmod(string, uint32) error                         { return ErrNotImplemented }
func (fa *Null) Unlink(string) error                                { return ErrNotImplemented }
func (fa *Null) Rmdir(string) error                                 { return ErrNotImplemented }
func (fa *Null) Link(string, string) error                          { return ErrNotImplemented }
func (fa *Null) Symlink(string, string) error                       { return ErrNotImplemented }
func (fa *Null) Readlink(string) (string, error)                    { return "", ErrNotImplemented }
func (fa *Null) Mkdir(string, uint32) error                         { return ErrNotImplemented }
func (fa *Null) Mknod(string, uint32, uint64) error                 { return ErrNotImplemented }
func (fa *Null) Opendir(string) (Dir, error)                        { return nil, ErrNotImplemented }
func (fa *Null) Llistxattr(string) ([]string, error)                { return nil, ErrNotImplemented }
func (fa *Null) Lgetxattr(string, string) ([]byte, error)           { return nil, ErrNotImplemented }
func (fa *Null) Lsetxattr(string, string, []byte) error             { return ErrNotImplemented }
