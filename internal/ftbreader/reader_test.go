package ftbreader

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/ftbackup/ftbackup/internal/ftbblock"
	"github.com/ftbackup/ftbackup/internal/ftbcipher"
	"github.com/ftbackup/ftbackup/internal/ftbfsaccess"
	"github.com/ftbackup/ftbackup/internal/ftbwriter"
)

// plainHasher adapts crypto/sha256 to ftbcipher.Hasher for tests, the same
// shim internal/ftbwriter's own tests use.
type plainHasher struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
		Reset()
	}
}

func newPlainHasher() *plainHasher { return &plainHasher{h: sha256.New()} }

func (p *plainHasher) DigestSize() int            { return sha256.Size }
func (p *plainHasher) Reset()                     { p.h.Reset() }
func (p *plainHasher) Write(b []byte) (int, error) { return p.h.Write(b) }
func (p *plainHasher) Sum(dst []byte) []byte       { return p.h.Sum(dst) }

func writeTree(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "small"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	big := make([]byte, 50000)
	for i := range big {
		big[i] = byte(i % 251)
	}
	if err := os.WriteFile(filepath.Join(dir, "big"), big, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "nested"), []byte("nested\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("small", filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}
	if err := os.Link(filepath.Join(dir, "small"), filepath.Join(dir, "hardlink")); err != nil {
		t.Fatal(err)
	}
}

func backup(t *testing.T, srcDir, savesetPath string, framer *ftbcipher.Framer) {
	t.Helper()
	w := ftbwriter.New(
		ftbwriter.WithBlockSize(4096),
		ftbwriter.WithXOR(4, 2),
		ftbwriter.WithFramer(framer),
	)
	if err := w.Backup(context.Background(), savesetPath, srcDir); err != nil {
		t.Fatalf("Backup: %v", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	writeTree(t, srcDir)

	savesetPath := filepath.Join(t.TempDir(), "saveset")
	framer := &ftbcipher.Framer{Hasher: newPlainHasher()}
	backup(t, srcDir, savesetPath, framer)

	destDir := t.TempDir()
	rd := New(WithFramer(framer), WithFSAccess(ftbfsaccess.NewFull()))
	if err := rd.Restore(context.Background(), savesetPath, destDir); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	for _, name := range []string{"small", "big", filepath.Join("sub", "nested")} {
		want, err := os.ReadFile(filepath.Join(srcDir, name))
		if err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(filepath.Join(destDir, name))
		if err != nil {
			t.Fatalf("reading restored %s: %v", name, err)
		}
		if string(got) != string(want) {
			t.Fatalf("restored %s content mismatch: got %d bytes, want %d bytes", name, len(got), len(want))
		}
	}

	link, err := os.Readlink(filepath.Join(destDir, "link"))
	if err != nil {
		t.Fatalf("reading restored symlink: %v", err)
	}
	if link != "small" {
		t.Fatalf("restored symlink target = %q, want %q", link, "small")
	}

	a, err := os.Stat(filepath.Join(destDir, "small"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.Stat(filepath.Join(destDir, "hardlink"))
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(a, b) {
		t.Fatal("restored hardlink does not share an inode with its target")
	}
}

func TestCompareDetectsDrift(t *testing.T) {
	srcDir := t.TempDir()
	writeTree(t, srcDir)

	savesetPath := filepath.Join(t.TempDir(), "saveset")
	framer := &ftbcipher.Framer{Hasher: newPlainHasher()}
	backup(t, srcDir, savesetPath, framer)

	destDir := t.TempDir()
	rd := New(WithFramer(framer), WithFSAccess(ftbfsaccess.NewFull()))
	if err := rd.Restore(context.Background(), savesetPath, destDir); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	cmp := New(WithFramer(framer), WithFSAccess(ftbfsaccess.NewCompare()))
	if err := cmp.Compare(context.Background(), savesetPath, destDir); err != nil {
		t.Fatalf("Compare on an untouched restore tree: %v", err)
	}

	if err := os.WriteFile(filepath.Join(destDir, "small"), []byte("drifted\n"), 0644); err != nil {
		t.Fatal(err)
	}
	err := cmp.Compare(context.Background(), savesetPath, destDir)
	if err == nil {
		t.Fatal("Compare did not notice a drifted file")
	}
}

func TestListWalksHeadersWithoutTouchingDisk(t *testing.T) {
	srcDir := t.TempDir()
	writeTree(t, srcDir)

	savesetPath := filepath.Join(t.TempDir(), "saveset")
	framer := &ftbcipher.Framer{Hasher: newPlainHasher()}
	backup(t, srcDir, savesetPath, framer)

	rd := New(WithFramer(framer))
	var names []string
	if err := rd.List(context.Background(), savesetPath, func(h *ftbblock.Header) error {
		names = append(names, h.Name)
		return nil
	}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("List produced no headers")
	}
}
