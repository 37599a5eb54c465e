package ftbcipher

import (
	"bytes"
	"crypto/aes"
	"crypto/sha256"
	"testing"

	"github.com/ftbackup/ftbackup/internal/ftbblock"
)

// aesCipher adapts crypto/aes to the Cipher interface for tests.
type aesCipher struct {
	block interface {
		Encrypt(dst, src []byte)
		Decrypt(dst, src []byte)
	}
}

func newAESCipher(key []byte) *aesCipher {
	b, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	return &aesCipher{block: b}
}

func (c *aesCipher) BlockSize() int          { return aes.BlockSize }
func (c *aesCipher) DefaultKeySize() int     { return 32 }
func (c *aesCipher) SetKey(key []byte) error { return nil }
func (c *aesCipher) EncryptBlock(dst, src []byte) { c.block.Encrypt(dst, src) }
func (c *aesCipher) DecryptBlock(dst, src []byte) { c.block.Decrypt(dst, src) }

// sha256Hasher adapts crypto/sha256 to the Hasher interface for tests.
type sha256Hasher struct {
	h interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
		Reset()
	}
}

func newSHA256Hasher() *sha256Hasher { return &sha256Hasher{h: sha256.New()} }

func (s *sha256Hasher) DigestSize() int            { return sha256.Size }
func (s *sha256Hasher) Reset()                     { s.h.Reset() }
func (s *sha256Hasher) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *sha256Hasher) Sum(dst []byte) []byte       { return s.h.Sum(dst) }

func testParams() ftbblock.Params {
	return ftbblock.Params{L2BS: 12, XorGC: 1, XorSC: 1} // 4 KiB
}

func TestFramerRoundTripUnencrypted(t *testing.T) {
	f := &Framer{Hasher: newSHA256Hasher()}
	p := testParams()
	b := ftbblock.NewDataBlock(p)
	b.Body = make([]byte, p.BlockSize()-ftbblock.HeaderSize-f.HashTailSize())
	b.Seqno = 1
	copy(b.Body, []byte("hello world"))

	raw, err := f.Finish(b)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(raw) != p.BlockSize() {
		t.Fatalf("Finish produced %d bytes, want %d", len(raw), p.BlockSize())
	}

	got, err := f.Open(raw, &p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got.Body, b.Body) {
		t.Fatalf("body mismatch: got %q want %q", got.Body, b.Body)
	}
	if got.Seqno != b.Seqno {
		t.Fatalf("seqno mismatch: got %d want %d", got.Seqno, b.Seqno)
	}
}

func TestFramerRoundTripEncrypted(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	f := &Framer{Hasher: newSHA256Hasher(), Cipher: newAESCipher(key)}
	p := testParams()
	b := ftbblock.NewDataBlock(p)
	b.Body = make([]byte, p.BlockSize()-ftbblock.HeaderSize-f.HashTailSize())
	b.Seqno = 5
	b.HdrOff = 0
	copy(b.Body, []byte("secret payload"))

	raw, err := f.Finish(b)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// Magic, seqno, xorno and nonce must remain visible in the clear.
	if string(raw[0:8]) != ftbblock.MagicBlock {
		t.Fatalf("magic not in clear: %q", raw[0:8])
	}

	got, err := f.Open(raw, &p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got.Body, b.Body) {
		t.Fatalf("body mismatch: got %q want %q", got.Body, b.Body)
	}
}

func TestFramerDetectsTamper(t *testing.T) {
	f := &Framer{Hasher: newSHA256Hasher()}
	p := testParams()
	b := ftbblock.NewDataBlock(p)
	b.Body = make([]byte, p.BlockSize()-ftbblock.HeaderSize-f.HashTailSize())
	b.Seqno = 1

	raw, err := f.Finish(b)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	raw[ftbblock.HeaderSize] ^= 0xFF

	if _, err := f.Open(raw, &p); err != ftbblock.ErrHashMismatch {
		t.Fatalf("Open of tampered block: got %v, want ErrHashMismatch", err)
	}
}
