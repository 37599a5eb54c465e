package ftbreader

import (
	"io"
	"log"

	"golang.org/x/xerrors"

	"github.com/ftbackup/ftbackup/internal/ftbblock"
	"github.com/ftbackup/ftbackup/internal/ftbcipher"
	"github.com/ftbackup/ftbackup/internal/ftbxor"
)

// BlockReader implements spec.md §4.3's "Block dispatch": it returns data
// blocks to the caller in strict seqno order, transparently reconstructing
// a single lost block per parity group via internal/ftbxor, stacking
// out-of-order arrivals on a deferred list, and reporting a *BlockLostError
// for any seqno that cannot be recovered.
type BlockReader struct {
	src      *segmentSource
	framer   *ftbcipher.Framer
	baseline *ftbblock.Params
	engine   *ftbxor.Engine

	deferred  map[uint32]*ftbblock.Block
	lostSet   map[uint32]bool
	lastSeqno uint32
	pending   *ftbblock.Block // the block materialized by calibration, returned once
	eof       bool

	log *log.Logger

	// onGroupClosed, if set, is invoked every time a parity group closes,
	// successfully or not. Used by VerifyXOR to report coverage and
	// mismatches; nil in ordinary restore/compare use.
	onGroupClosed func(span uint64, group int, rec *ftbxor.Reconstruction)
}

func newBlockReader(src *segmentSource, framer *ftbcipher.Framer, logger *log.Logger) *BlockReader {
	return &BlockReader{
		src:      src,
		framer:   framer,
		deferred: make(map[uint32]*ftbblock.Block),
		log:      logger,
	}
}

// Baseline returns the saveset's block parameters, valid only after the
// first call to Next succeeds.
func (r *BlockReader) Baseline() *ftbblock.Params { return r.baseline }

// calibrate implements spec.md §4.3's "First block calibration": read in
// MinBlockSize chunks, growing a candidate buffer, until the whole buffer
// decodes and hash-verifies as a valid non-parity block. Its l2bs/xorgc/
// xorsc become the saveset baseline, and its body seeds the parity engine.
func (r *BlockReader) calibrate() error {
	var buf []byte
	chunk := make([]byte, ftbblock.MinBlockSize)
	for len(buf) < ftbblock.MaxBlockSize {
		if err := r.src.ReadFull(chunk); err != nil {
			return xerrors.Errorf("ftbreader: calibrating block size: %w", err)
		}
		buf = append(buf, chunk...)
		if len(buf)&(len(buf)-1) != 0 {
			continue // not yet a power-of-two candidate length
		}
		blk, err := r.framer.Open(buf, nil)
		if err != nil {
			continue
		}
		if blk.IsParity() {
			continue // the saveset's first block is always a data block
		}
		p := blk.Params
		r.baseline = &p
		r.engine = ftbxor.NewEngine(int(p.XorGC), int(p.XorSC), len(blk.Body))
		if p.XorGC > 0 {
			r.engine.Observe(p.SpanIndex(blk.Seqno), p.Group(blk.Seqno), blk.Seqno, blk.Body)
		}
		r.pending = blk
		return nil
	}
	return xerrors.New("ftbreader: no valid block found within maximum block size")
}

func (r *BlockReader) ensureCalibrated() error {
	if r.baseline != nil {
		return nil
	}
	return r.calibrate()
}

// expectedSeqnosForSpan returns the xorsc data-block seqnos belonging to
// group within span, in ascending order.
func expectedSeqnosForSpan(p ftbblock.Params, span uint64, group int) []uint32 {
	spanBlocks := p.SpanBlocks()
	base := uint32(span)*uint32(spanBlocks) + 1
	seqs := make([]uint32, 0, p.XorSC)
	for i := 0; i < int(p.XorSC); i++ {
		seqs = append(seqs, base+uint32(group)+uint32(i)*uint32(p.XorGC))
	}
	return seqs
}

// closeParity folds a parity block into its group's accumulator and
// either stacks a reconstructed data block onto the deferred list or
// marks every still-missing seqno of an unrecoverable group as lost
// (spec.md §4.1's recovery state machine).
func (r *BlockReader) closeParity(blk *ftbblock.Block) {
	group := r.baseline.GroupForXorno(blk.Xorno)
	span := uint64(blk.Xorno-1) / uint64(r.baseline.XorGC)
	expected := expectedSeqnosForSpan(*r.baseline, span, group)

	rec, err := r.engine.CloseGroup(span, group, blk.XorBC, expected, blk.Body)
	if err != nil {
		if r.lostSet == nil {
			r.lostSet = make(map[uint32]bool)
		}
		for _, sn := range expected {
			if sn <= r.lastSeqno {
				continue
			}
			if _, ok := r.deferred[sn]; ok {
				continue
			}
			r.lostSet[sn] = true
		}
		if r.onGroupClosed != nil {
			r.onGroupClosed(span, group, nil)
		}
		return
	}
	if r.onGroupClosed != nil {
		r.onGroupClosed(span, group, rec)
	}
	if rec.Recovered {
		r.deferred[rec.MissingSeqno] = &ftbblock.Block{
			Seqno:  rec.MissingSeqno,
			Params: *r.baseline,
			Body:   rec.Body,
		}
		return
	}
	if rec.ZeroCheckFailed && r.log != nil {
		r.log.Printf("ftbreader: parity verify mismatch span=%d group=%d", span, group)
	}
}

// Next returns the next data block in seqno order, or a *BlockLostError
// if it cannot be recovered, or ErrSavesetEnded once the saveset is
// exhausted with nothing further pending.
func (r *BlockReader) Next() (*ftbblock.Block, error) {
	if err := r.ensureCalibrated(); err != nil {
		return nil, err
	}
	want := r.lastSeqno + 1

	if r.pending != nil && r.pending.Seqno == want {
		b := r.pending
		r.pending = nil
		r.lastSeqno = want
		return b, nil
	}

	for {
		if b, ok := r.deferred[want]; ok {
			delete(r.deferred, want)
			r.lastSeqno = want
			return b, nil
		}
		if r.lostSet[want] {
			delete(r.lostSet, want)
			r.lastSeqno = want
			return nil, &BlockLostError{Seqno: want}
		}
		if r.eof {
			if len(r.deferred) > 0 {
				// Later blocks are stacked but want never arrived.
				r.lastSeqno = want
				return nil, &BlockLostError{Seqno: want}
			}
			return nil, ErrSavesetEnded
		}

		blockSize := r.baseline.BlockSize()
		raw := make([]byte, blockSize)
		if err := r.src.ReadFull(raw); err != nil {
			if err == io.EOF {
				r.eof = true
				continue
			}
			return nil, err
		}

		blk, err := r.framer.Open(raw, r.baseline)
		if err != nil {
			if r.log != nil {
				r.log.Printf("ftbreader: discarding unreadable block: %v", err)
			}
			continue
		}

		if blk.IsParity() {
			if r.baseline.XorGC > 0 {
				r.closeParity(blk)
			}
			continue
		}
		if blk.Seqno <= r.lastSeqno {
			continue // duplicate seqno, ignored (spec.md §4.1)
		}

		if r.baseline.XorGC > 0 {
			r.engine.Observe(r.baseline.SpanIndex(blk.Seqno), r.baseline.Group(blk.Seqno), blk.Seqno, blk.Body)
		}

		if blk.Seqno == want {
			r.lastSeqno = want
			return blk, nil
		}

		if r.baseline.XorGC == 0 {
			// No parity redundancy at all: every seqno strictly between
			// want and the block that just arrived is immediately
			// unrecoverable (spec.md §4.1 "return it as a gap and keep
			// reading"), there being no span-close event to wait for.
			if r.lostSet == nil {
				r.lostSet = make(map[uint32]bool)
			}
			for sn := want; sn < blk.Seqno; sn++ {
				r.lostSet[sn] = true
			}
		}
		r.deferred[blk.Seqno] = blk
	}
}
