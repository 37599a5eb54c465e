package ftbwriter

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/ftbackup/ftbackup/internal/ftbblock"
	"github.com/ftbackup/ftbackup/internal/ftbcipher"
)

// plainHasher adapts crypto/sha256 to ftbcipher.Hasher for tests.
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

func TestBackupProducesValidBlocks(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "saveset")

	framer := &ftbcipher.Framer{Hasher: newPlainHasher()}
	w := New(
		WithBlockSize(4096),
		WithXOR(1, 2),
		WithFramer(framer),
	)
	if err := w.Backup(context.Background(), out, dir); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading saveset: %v", err)
	}
	if len(raw)%4096 != 0 {
		t.Fatalf("saveset length %d not a multiple of block size", len(raw))
	}

	first, err := framer.Open(raw[:4096], nil)
	if err != nil {
		t.Fatalf("opening first block: %v", err)
	}
	if first.Seqno != 1 {
		t.Fatalf("first block seqno = %d, want 1", first.Seqno)
	}
	if first.HdrOff == 0 {
		t.Fatal("first block hdroffs is 0, want nonzero (spec.md §6 invariant)")
	}
	bodyIdx := first.HdrOff - ftbblock.HeaderSize
	if string(first.Body[bodyIdx:bodyIdx+uint32(len(ftbblock.MagicHeader))]) != ftbblock.MagicHeader {
		t.Fatalf("hdroffs does not point at a header magic")
	}
}
