// Package ftbxor implements the XOR parity engine described in spec.md
// §4.1: bytewise accumulation of data-block bodies into xorgc interleaved
// parity groups per span, and reconstruction of a single lost data block
// per group per span from its parity block and surviving siblings.
package ftbxor

import "golang.org/x/xerrors"

// ErrUnrecoverable is returned when a group within a span cannot be
// reconstructed because two or more of its data blocks are missing. A
// parity block whose xorbc does not match the group width is reported by
// CloseGroup with a separate error.
var ErrUnrecoverable = xerrors.New("ftbxor: parity group unrecoverable for this span")

// XorInto XORs src into dst in place; len(dst) must equal len(src). The
// loop is written over aligned 8-byte words with a byte tail so the
// compiler can vectorize it (spec.md §9 design note); correctness does not
// depend on alignment, only throughput does. Exported so the writer-side
// accumulation in internal/ftbwriter (which has no missing blocks to
// reconstruct, just a running XOR per parity group) can reuse the same
// primitive as the reader's recovery engine below.
func XorInto(dst, src []byte) {
	n := len(dst)
	i := 0
	for ; i+8 <= n; i += 8 {
		dst[i] ^= src[i]
		dst[i+1] ^= src[i+1]
		dst[i+2] ^= src[i+2]
		dst[i+3] ^= src[i+3]
		dst[i+4] ^= src[i+4]
		dst[i+5] ^= src[i+5]
		dst[i+6] ^= src[i+6]
		dst[i+7] ^= src[i+7]
	}
	for ; i < n; i++ {
		dst[i] ^= src[i]
	}
}

// groupState is the accumulator and observed-block-count for a single
// parity group within the span currently in progress.
type groupState struct {
	accum   []byte
	count   uint8
	members map[uint32][]byte // seqno -> body, kept until the span's parity block closes the group
}

// Engine tracks the xorgc interleaved accumulators across a stream of data
// and parity blocks arriving in increasing seqno/xorno order within a
// single span at a time. It is the reconstruction half of spec.md §4.1 and
// is used by the reader; the writer keeps its own running XOR per parity
// group with XorInto and does not use an Engine.
type Engine struct {
	xorgc    int
	xorsc    int
	bodyLen  int
	curSpan  uint64
	groups   []groupState
	haveSpan bool
}

// NewEngine creates a parity engine for the given group count, span count,
// and body length (bytes XORed per block).
func NewEngine(xorgc, xorsc, bodyLen int) *Engine {
	e := &Engine{xorgc: xorgc, xorsc: xorsc, bodyLen: bodyLen}
	e.groups = make([]groupState, xorgc)
	for i := range e.groups {
		e.groups[i].members = make(map[uint32][]byte)
	}
	return e
}

// resetSpan zeroes all accumulators and forgets observed members; called on
// span rollover (spec.md §4.1 "Span rollover").
func (e *Engine) resetSpan(span uint64) {
	e.curSpan = span
	e.haveSpan = true
	for i := range e.groups {
		if e.groups[i].accum == nil {
			e.groups[i].accum = make([]byte, e.bodyLen)
		} else {
			for j := range e.groups[i].accum {
				e.groups[i].accum[j] = 0
			}
		}
		e.groups[i].count = 0
		for k := range e.groups[i].members {
			delete(e.groups[i].members, k)
		}
	}
}

// ensureSpan rolls the accumulators over if span differs from the one
// currently held.
func (e *Engine) ensureSpan(span uint64) {
	if !e.haveSpan || span != e.curSpan {
		e.resetSpan(span)
	}
}

// Observe folds a data block's body into its group's accumulator. group
// must be in [0, xorgc); span is the span the seqno belongs to.
func (e *Engine) Observe(span uint64, group int, seqno uint32, body []byte) {
	e.ensureSpan(span)
	g := &e.groups[group]
	XorInto(g.accum, body)
	g.count++
	g.members[seqno] = append([]byte(nil), body...)
}

// Reconstruction is the outcome of closing a parity group at span end.
type Reconstruction struct {
	Recovered      bool
	MissingSeqno   uint32 // valid only if Recovered
	Body           []byte // valid only if Recovered: the reconstructed data-block body
	ZeroCheckFailed bool  // true if all blocks were present but parity didn't verify to zero
}

// CloseGroup is called when a parity block with the given xorbc arrives for
// the given group/span, covering a known set of expected seqnos (the
// xorsc consecutive data-block seqnos of this group within this span, in
// order). It XORs the parity body into the group accumulator and decides
// whether exactly one data block was missing (reconstructible), all were
// present (verify zero), or more than one was missing (unrecoverable).
func (e *Engine) CloseGroup(span uint64, group int, xorbc uint8, expectedSeqnos []uint32, parityBody []byte) (*Reconstruction, error) {
	e.ensureSpan(span)
	g := &e.groups[group]

	if int(xorbc) != len(expectedSeqnos) {
		return nil, xerrors.Errorf("ftbxor: parity xorbc %d does not match expected span width %d", xorbc, len(expectedSeqnos))
	}

	XorInto(g.accum, parityBody)

	missing := make([]uint32, 0, 1)
	for _, sn := range expectedSeqnos {
		if _, ok := g.members[sn]; !ok {
			missing = append(missing, sn)
		}
	}

	switch len(missing) {
	case 0:
		zero := true
		for _, b := range g.accum {
			if b != 0 {
				zero = false
				break
			}
		}
		return &Reconstruction{Recovered: false, ZeroCheckFailed: !zero}, nil
	case 1:
		return &Reconstruction{Recovered: true, MissingSeqno: missing[0], Body: append([]byte(nil), g.accum...)}, nil
	default:
		return nil, ErrUnrecoverable
	}
}
