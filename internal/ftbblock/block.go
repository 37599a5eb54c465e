// Package ftbblock implements the ftbackup on-disk block and header format:
// the fixed-size, optionally-encrypted, hash-tailed block that carries
// compressed file headers and data through a saveset, plus the interleaved
// XOR parity blocks that let a reader reconstruct a bounded number of lost
// blocks (see internal/ftbxor).
//
// Magic, seqno and xorno are never encrypted so a reader can locate and
// order blocks without the saveset key.
package ftbblock

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Magic strings, always 8 bytes, ASCII, never encrypted.
const (
	MagicBlock  = "ftbackup"
	MagicHeader = "ftbheder"
)

// Size constraints from spec.md §3: block size is a power of two in
// [MinBlockSize, MaxBlockSize].
const (
	MinBlockSize = 4 * 1024
	MaxBlockSize = 1 << 30
)

// clearHeaderSize is the number of bytes at the front of a block that are
// never encrypted: magic(8) + seqno(4) + xorno(4) + nonce(16) = 32. The
// nonce must live in the clear immediately after seqno/xorno since it is
// the CBC initialization vector for everything that follows it — it cannot
// itself be inside the region it unlocks. This resolves an internal
// inconsistency in the field table as distilled (which placed nonce after
// the encrypted fields); see DESIGN.md.
const clearHeaderSize = 8 + 4 + 4 + 16

// cryptHeaderSize is hdroffs(4) + l2bs(1) + xorbc(1) + xorgc(1) + xorsc(1),
// the fixed fields that sit in the encrypted region ahead of the body.
const cryptHeaderSize = 4 + 1 + 1 + 1 + 1

// HeaderSize is the total fixed-size prefix of a block, before the body.
const HeaderSize = clearHeaderSize + cryptHeaderSize

// nonceOffset is the byte offset of the nonce field within a block.
const nonceOffset = 8 + 4 + 4

// ClearHeaderSize and NonceOffset are exported for ftbcipher, which needs
// to know where the encrypted region begins and where to find the nonce
// without duplicating this layout's magic numbers.
const (
	ClearHeaderSize = clearHeaderSize
	NonceOffset     = nonceOffset
)

var (
	ErrBadMagic      = xerrors.New("ftbblock: bad magic")
	ErrTruncated     = xerrors.New("ftbblock: truncated block")
	ErrBadBlockSize  = xerrors.New("ftbblock: block size not a power of two in range")
	ErrHashMismatch  = xerrors.New("ftbblock: hash verification failed")
	ErrBadStructure  = xerrors.New("ftbblock: structural invariant violated")
	ErrParamMismatch = xerrors.New("ftbblock: l2bs/xorgc/xorsc mismatch with baseline")
)

// Params are the saveset-wide constants stamped into every block: l2bs
// (log2 of block size), xorgc (parity group count) and xorsc (span count,
// data blocks per parity block per group). They are identical in every
// block of a saveset and captured as a "baseline" from the first block a
// reader sees.
type Params struct {
	L2BS  uint8
	XorGC uint8
	XorSC uint8
}

// BlockSize returns 1 << L2BS.
func (p Params) BlockSize() int { return 1 << p.L2BS }

// SpanBlocks is the number of data blocks per span: xorgc * xorsc.
func (p Params) SpanBlocks() int { return int(p.XorGC) * int(p.XorSC) }

// Block is a decoded ftbackup block. Body is the plaintext, decrypted,
// hash-stripped payload region: for a data block, compressed stream bytes;
// for a parity block, the XOR accumulator bytes.
type Block struct {
	Seqno  uint32
	Xorno  uint32 // 0 for data blocks
	HdrOff uint32 // block-relative offset (HeaderSize + body index) of the first file header, or 0
	Params Params
	XorBC  uint8 // parity only: data blocks XORed in
	Nonce  [16]byte
	Body   []byte
}

// IsParity reports whether this is a parity block (Xorno != 0).
func (b *Block) IsParity() bool { return b.Xorno != 0 }

// NewDataBlock allocates a zeroed data block of the given saveset
// parameters, body pre-sized to fill the full block.
func NewDataBlock(p Params) *Block {
	return &Block{
		Params: p,
		Body:   make([]byte, p.BlockSize()-HeaderSize-hashTailSizeForParams(p)),
	}
}

// hashTailSizeForParams is a placeholder seam: the hash tail size depends on
// the configured Hasher's digest size, which ftbblock does not know about on
// its own (the hash/crypt layer lives in internal/ftbcipher). Callers that
// need exact body sizing go through ftbcipher.Framer, which knows the digest
// size; this helper assumes no hash tail (digest size 0) for callers that
// just want a block-sized scratch buffer before a framer trims it.
func hashTailSizeForParams(Params) int { return 0 }

// Encode serializes the block's clear-text and crypt-text header fields and
// body into dst, which must be exactly BlockSize bytes (including space for
// a hash tail of hashTailLen bytes that Encode leaves zeroed for the caller
// to fill in). It does not encrypt; that is the ftbcipher layer's job.
func (b *Block) Encode(dst []byte, hashTailLen int) error {
	blockSize := b.Params.BlockSize()
	if len(dst) != blockSize {
		return xerrors.Errorf("ftbblock: Encode: dst length %d != block size %d", len(dst), blockSize)
	}
	if len(b.Body) != blockSize-HeaderSize-hashTailLen {
		return xerrors.Errorf("ftbblock: Encode: body length %d != expected %d", len(b.Body), blockSize-HeaderSize-hashTailLen)
	}

	copy(dst[0:8], MagicBlock)
	binary.LittleEndian.PutUint32(dst[8:12], b.Seqno)
	binary.LittleEndian.PutUint32(dst[12:16], b.Xorno)
	copy(dst[nonceOffset:nonceOffset+16], b.Nonce[:])

	off := clearHeaderSize
	binary.LittleEndian.PutUint32(dst[off:off+4], b.HdrOff)
	off += 4
	dst[off] = b.Params.L2BS
	off++
	dst[off] = b.XorBC
	off++
	dst[off] = b.Params.XorGC
	off++
	dst[off] = b.Params.XorSC
	off++

	copy(dst[off:off+len(b.Body)], b.Body)
	return nil
}

// Decode parses a block from src, which must be exactly the number of
// bytes remaining after stripping the trailing hash (i.e. len(src) ==
// BlockSize - hashTailLen). baseline, if non-nil, is validated against per
// the rules in spec.md §4.1; pass nil only when decoding the very first
// block of a saveset (before a baseline exists).
func Decode(src []byte, hashTailLen int, baseline *Params) (*Block, error) {
	if len(src) < HeaderSize {
		return nil, ErrTruncated
	}
	if string(src[0:8]) != MagicBlock {
		return nil, ErrBadMagic
	}

	b := &Block{}
	b.Seqno = binary.LittleEndian.Uint32(src[8:12])
	b.Xorno = binary.LittleEndian.Uint32(src[12:16])
	copy(b.Nonce[:], src[nonceOffset:nonceOffset+16])

	off := clearHeaderSize
	b.HdrOff = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	b.Params.L2BS = src[off]
	off++
	b.XorBC = src[off]
	off++
	b.Params.XorGC = src[off]
	off++
	b.Params.XorSC = src[off]
	off++

	blockSize := b.Params.BlockSize()
	if blockSize < MinBlockSize || blockSize > MaxBlockSize || blockSize&(blockSize-1) != 0 {
		return nil, ErrBadBlockSize
	}

	wantLen := blockSize - hashTailLen
	if len(src) != wantLen {
		return nil, xerrors.Errorf("%w: got %d bytes, want %d", ErrTruncated, len(src), wantLen)
	}
	b.Body = append([]byte(nil), src[off:]...)

	if baseline != nil {
		if b.Params != *baseline {
			return nil, ErrParamMismatch
		}
	}

	if !b.IsParity() {
		if b.XorBC > b.Params.XorSC {
			return nil, xerrors.Errorf("%w: xorbc %d > xorsc %d", ErrBadStructure, b.XorBC, b.Params.XorSC)
		}
		if b.HdrOff != 0 {
			// hdroffs is an offset from the start of the whole block, not
			// from the start of the body (spec.md §8: "hdroffs is ... in
			// [header-size, B - hash-size)"), so a legitimate header is
			// never mistaken for the "no header" sentinel even when it
			// begins at the very first byte of the body — which is exactly
			// what happens in block 1 (spec.md §6 invariant: block 1's
			// hdroffs is always nonzero).
			if int(b.HdrOff) < HeaderSize {
				return nil, xerrors.Errorf("%w: hdroffs %d below start of body", ErrBadStructure, b.HdrOff)
			}
			bodyIdx := int(b.HdrOff) - HeaderSize
			if bodyIdx >= len(b.Body) {
				return nil, xerrors.Errorf("%w: hdroffs %d out of body", ErrBadStructure, b.HdrOff)
			}
			end := bodyIdx + len(MagicHeader)
			if end > len(b.Body) {
				end = len(b.Body)
			}
			if string(b.Body[bodyIdx:end]) != MagicHeader[:end-bodyIdx] {
				return nil, xerrors.Errorf("%w: hdroffs %d does not point at a header", ErrBadStructure, b.HdrOff)
			}
		}
	}

	return b, nil
}

// Group returns the parity group a data block with the given seqno belongs
// to: (seqno-1) mod xorgc.
func (p Params) Group(seqno uint32) int {
	return int((seqno - 1) % uint32(p.XorGC))
}

// GroupForXorno returns the group a parity block with the given xorno
// closes: (xorno-1) mod xorgc.
func (p Params) GroupForXorno(xorno uint32) int {
	return int((xorno - 1) % uint32(p.XorGC))
}

// SpanIndex returns which span (0-based) a data block with the given seqno
// falls in.
func (p Params) SpanIndex(seqno uint32) uint64 {
	return uint64(seqno-1) / uint64(p.SpanBlocks())
}
