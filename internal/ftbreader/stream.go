package ftbreader

import (
	"io"

	"github.com/ftbackup/ftbackup/internal/ftbblock"
)

// blockBodyReader presents the concatenation of body bytes from successive
// blocks (spec.md §4.1: block N+1's body is a logical continuation of block
// N's) as a single byte stream. It implements io.ByteReader so
// compress/flate's no-lookahead reader can stop reading at exactly the end
// of a deflate stream, leaving the cursor positioned at the first byte of
// whatever passthrough content (typically a header) follows it — the
// mechanism that keeps concatenated compressed/passthrough regions from
// being misread as one another.
type blockBodyReader struct {
	br  *BlockReader
	cur *ftbblock.Block
	off int // read position within cur.Body

	lost error // sticky *BlockLostError once one is seen, until resyncAfterLoss
}

func newBlockBodyReader(br *BlockReader) *blockBodyReader {
	return &blockBodyReader{br: br}
}

func (r *blockBodyReader) advance() error {
	for r.cur == nil || r.off >= len(r.cur.Body) {
		if r.lost != nil {
			return r.lost
		}
		blk, err := r.br.Next()
		if err != nil {
			if _, ok := err.(*BlockLostError); ok {
				r.lost = err
			}
			return err
		}
		r.cur = blk
		r.off = 0
	}
	return nil
}

// ReadByte satisfies io.ByteReader.
func (r *blockBodyReader) ReadByte() (byte, error) {
	if err := r.advance(); err != nil {
		return 0, err
	}
	b := r.cur.Body[r.off]
	r.off++
	return b, nil
}

// Read satisfies io.Reader, for passthrough (uncompressed) regions.
func (r *blockBodyReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := r.advance(); err != nil {
		return 0, err
	}
	n := copy(p, r.cur.Body[r.off:])
	r.off += n
	return n, nil
}

// currentHdrOff reports the HdrOff of the block the cursor currently sits
// in; 0 if no block has been fetched yet.
func (r *blockBodyReader) currentHdrOff() uint32 {
	if r.cur == nil {
		return 0
	}
	return r.cur.HdrOff
}

// resyncAfterLoss implements spec.md §4.3's header resync: once a block is
// unrecoverably lost, any inflater state built on the stream is worthless,
// so discard the cursor entirely and keep pulling blocks (tolerating
// further losses along the way) until one carries a nonzero HdrOff,
// positioning the cursor exactly at that header's magic bytes.
func (r *blockBodyReader) resyncAfterLoss() error {
	r.lost = nil
	r.cur = nil
	r.off = 0
	for {
		blk, err := r.br.Next()
		if err != nil {
			if _, ok := err.(*BlockLostError); ok {
				continue
			}
			return err
		}
		if blk.HdrOff == 0 {
			continue
		}
		r.cur = blk
		r.off = int(blk.HdrOff) - ftbblock.HeaderSize
		return nil
	}
}

// readHeader decodes one Header from r, which must be positioned exactly at
// the header's magic bytes. Headers are always HEADER_PASSTHROUGH (spec.md
// §4.2), so callers read them straight off the block-body cursor, never
// through an inflater. It reads just enough of the fixed-size prefix to
// learn nameln, then the exact remaining blob, before delegating to
// ftbblock.DecodeHeader rather than re-deriving the wire layout.
func readHeader(r io.Reader) (*ftbblock.Header, error) {
	magic := make([]byte, len(ftbblock.MagicHeader))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if string(magic) != ftbblock.MagicHeader {
		return nil, ftbblock.ErrBadMagic
	}

	fixed := make([]byte, ftbblock.HeaderFixedSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, err
	}
	nameln := int(fixed[ftbblock.HeaderNameLenOffset]) | int(fixed[ftbblock.HeaderNameLenOffset+1])<<8

	blob := make([]byte, nameln)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, err
	}

	whole := make([]byte, 0, len(magic)+len(fixed)+len(blob))
	whole = append(whole, magic...)
	whole = append(whole, fixed...)
	whole = append(whole, blob...)

	h, _, err := ftbblock.DecodeHeader(whole)
	return h, err
}
