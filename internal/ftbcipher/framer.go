package ftbcipher

import (
	"crypto/rand"

	"github.com/ftbackup/ftbackup/internal/ftbblock"
	"golang.org/x/xerrors"
)

// Framer ties together ftbblock's wire layout with a Hasher/Cipher pair to
// implement the finisher's "hash_block" step (spec.md §4.2) and the
// reader's inverse.
//
// Order of operations on write, grounded on ftbwriter.cpp's hash_block:
// fill the nonce with fresh random bytes, hash the block (magic, seqno,
// xorno, nonce, and the still-plaintext crypt-header+body) leaving the
// digest in the block's hash tail, THEN — if encryption is enabled —
// encrypt everything from just after the nonce through the end of the
// block (crypt-header, body, and the hash tail itself) in CBC mode keyed
// by the nonce. Magic/seqno/xorno/nonce stay in the clear; the nonce must,
// since it is the IV for the region it unlocks.
type Framer struct {
	Hasher Hasher
	Cipher Cipher // nil disables encryption
}

// HashTailSize is the number of trailing bytes a block reserves for the
// keyed hash.
func (f *Framer) HashTailSize() int { return f.Hasher.DigestSize() }

// BodyCapacity returns how many body bytes fit in a block of the given
// total size once the fixed header and hash tail are subtracted.
func (f *Framer) BodyCapacity(blockSize int) int {
	return blockSize - ftbblock.HeaderSize - f.HashTailSize()
}

// Finish serializes b, hashes it, and (if a cipher is configured) encrypts
// the region from the end of the nonce through the end of the block,
// including the hash tail just written. The nonce is freshly randomized.
func (f *Framer) Finish(b *ftbblock.Block) ([]byte, error) {
	blockSize := b.Params.BlockSize()
	hashLen := f.HashTailSize()

	if _, err := rand.Read(b.Nonce[:]); err != nil {
		return nil, xerrors.Errorf("ftbcipher: generating nonce: %w", err)
	}

	out := make([]byte, blockSize)
	if err := b.Encode(out, hashLen); err != nil {
		return nil, err
	}

	f.Hasher.Reset()
	f.Hasher.Write(out[:blockSize-hashLen])
	sum := f.Hasher.Sum(nil)
	copy(out[blockSize-hashLen:], sum)

	if f.Cipher != nil {
		region := out[encryptedRegionStart:]
		bs := f.Cipher.BlockSize()
		if len(region)%bs != 0 {
			return nil, xerrors.Errorf("ftbcipher: encrypted region length %d not a multiple of cipher block size %d", len(region), bs)
		}
		if err := CBCEncrypt(f.Cipher, b.Nonce[:bs], region, region); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// encryptedRegionStart is the byte offset where encryption begins: right
// after magic(8)+seqno(4)+xorno(4)+nonce(16).
const encryptedRegionStart = ftbblock.ClearHeaderSize

// Open decrypts (if a cipher is configured), verifies the hash tail, and
// decodes the block. Decryption must happen before hash verification
// because the hash was computed over the plaintext and the hash tail
// itself is part of the encrypted region (ftbwriter.cpp hash_block encrypts
// "the block, including the hash"). baseline, if non-nil, is enforced by
// ftbblock.Decode.
func (f *Framer) Open(raw []byte, baseline *ftbblock.Params) (*ftbblock.Block, error) {
	blockSize := len(raw)
	hashLen := f.HashTailSize()
	if blockSize < hashLen+encryptedRegionStart {
		return nil, ftbblock.ErrTruncated
	}

	plain := append([]byte(nil), raw...)
	if f.Cipher != nil {
		var nonce [16]byte
		copy(nonce[:], plain[ftbblock.NonceOffset:ftbblock.NonceOffset+16])
		region := plain[encryptedRegionStart:]
		bs := f.Cipher.BlockSize()
		if len(region)%bs != 0 {
			return nil, xerrors.Errorf("ftbcipher: encrypted region length %d not a multiple of cipher block size %d", len(region), bs)
		}
		if err := ModifiedCBCDecrypt(f.Cipher, nonce[:bs], region, region); err != nil {
			return nil, err
		}
	}

	body := plain[:blockSize-hashLen]
	wantSum := plain[blockSize-hashLen:]

	f.Hasher.Reset()
	f.Hasher.Write(body)
	gotSum := f.Hasher.Sum(nil)
	if !hashEqual(gotSum, wantSum) {
		return nil, ftbblock.ErrHashMismatch
	}

	return ftbblock.Decode(body, hashLen, baseline)
}

func hashEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
