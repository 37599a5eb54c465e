package ftbwriter

import "github.com/ftbackup/ftbackup/internal/ftbblock"

// blockAccumulator packs a rolling stream of passthrough and deflated
// bytes into fixed-size block bodies, emitting a filled block downstream
// whenever it fills (spec.md §4.2 compressor responsibilities). The
// caller is responsible for calling markHeaderStart immediately before
// writing a header's bytes; the first such call per block sets hdroffs,
// matching "the first byte of a header written into a block sets that
// block's hdroffs; subsequent headers in the same block do not change
// it". A header that straddles a block boundary keeps the hdroffs of the
// block it started in.
type blockAccumulator struct {
	params ftbblock.Params
	cap    int
	buf    []byte
	pos    int
	hdrOff uint32
	seqno  *uint32
	blocks chan<- *ftbblock.Block
}

func newBlockAccumulator(params ftbblock.Params, capacity int, seqno *uint32, blocks chan<- *ftbblock.Block) *blockAccumulator {
	return &blockAccumulator{params: params, cap: capacity, buf: make([]byte, capacity), seqno: seqno, blocks: blocks}
}

func (a *blockAccumulator) markHeaderStart() {
	if a.hdrOff == 0 {
		// hdroffs is block-relative (spec.md §8: always in
		// [header-size, B-hash-size) when nonzero), so the body position
		// must be shifted by the fixed header size ftbblock.Decode expects.
		a.hdrOff = uint32(ftbblock.HeaderSize + a.pos)
	}
}

// Write implements io.Writer, splitting p across as many blocks as
// needed.
func (a *blockAccumulator) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := copy(a.buf[a.pos:], p)
		a.pos += n
		p = p[n:]
		written += n
		if a.pos == a.cap {
			a.flush()
		}
	}
	return written, nil
}

// flush emits the current buffer as a data block and starts a fresh one.
func (a *blockAccumulator) flush() {
	*a.seqno++
	a.blocks <- &ftbblock.Block{
		Seqno:  *a.seqno,
		Params: a.params,
		HdrOff: a.hdrOff,
		Body:   a.buf,
	}
	a.buf = make([]byte, a.cap)
	a.pos = 0
	a.hdrOff = 0
}

// finishFinal pads the current partial block with 0xFF (spec.md §4.2: "a
// null sentinel from the walker triggers... pad the final block with
// 0xFF in the unused body tail") and flushes it, even if empty.
func (a *blockAccumulator) finishFinal() {
	for i := a.pos; i < a.cap; i++ {
		a.buf[i] = 0xFF
	}
	a.pos = a.cap
	a.flush()
}
