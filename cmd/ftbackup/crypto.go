package main

import (
	"crypto/aes"
	"crypto/sha256"

	"github.com/ftbackup/ftbackup/internal/ftbcipher"
)

// sha256Hasher adapts crypto/sha256 to ftbcipher.Hasher, mirroring
// cmd/distri/build.go's direct use of crypto/sha256 for content hashing
// rather than introducing a hashing abstraction of its own.
type sha256Hasher struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
		Reset()
	}
}

func newSHA256Hasher() *sha256Hasher { return &sha256Hasher{h: sha256.New()} }

func (s *sha256Hasher) DigestSize() int             { return sha256.Size }
func (s *sha256Hasher) Reset()                      { s.h.Reset() }
func (s *sha256Hasher) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *sha256Hasher) Sum(dst []byte) []byte       { return s.h.Sum(dst) }

// aesCipher adapts crypto/aes to ftbcipher.Cipher.
type aesCipher struct {
	block interface {
		Encrypt(dst, src []byte)
		Decrypt(dst, src []byte)
	}
}

func (c *aesCipher) BlockSize() int      { return aes.BlockSize }
func (c *aesCipher) DefaultKeySize() int { return 32 } // AES-256

func (c *aesCipher) SetKey(key []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	c.block = block
	return nil
}

func (c *aesCipher) EncryptBlock(dst, src []byte) { c.block.Encrypt(dst, src) }
func (c *aesCipher) DecryptBlock(dst, src []byte) { c.block.Decrypt(dst, src) }

// newFramer builds the Framer every subcommand shares: SHA-256 hashing
// always, AES-256 encryption only when a non-empty password is given.
func newFramer(password string) (*ftbcipher.Framer, error) {
	f := &ftbcipher.Framer{Hasher: newSHA256Hasher()}
	if password == "" {
		return f, nil
	}
	c := &aesCipher{}
	key := ftbcipher.DeriveKey(newSHA256Hasher(), []byte(password), c.DefaultKeySize())
	if err := c.SetKey(key); err != nil {
		return nil, err
	}
	f.Cipher = c
	return f, nil
}
