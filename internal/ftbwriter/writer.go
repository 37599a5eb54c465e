// Package ftbwriter drives internal/ftbwalk into a saveset: the
// compressor packs headers and (optionally deflated) payload bytes into
// fixed-size blocks, and the finisher XORs them into parity accumulators,
// hashes/encrypts each block, and writes it to the current segment. The
// three stages run concurrently, coupled by bounded channels and owned by
// a golang.org/x/sync/errgroup.Group, the same shape
// internal/batch/batch.go and cmd/minitrd/minitrd.go use for worker pools
// (spec.md §4.2, §5).
package ftbwriter

import (
	"context"
	"io"
	"math/bits"
	"time"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/ftbackup/ftbackup/internal/ftbblock"
	"github.com/ftbackup/ftbackup/internal/ftbwalk"
	"github.com/ftbackup/ftbackup/internal/ftbxor"
)

// queueDepth is the bounded-queue slot count between pipeline stages,
// matching spec.md §5's "fixed slot count (4 by default)".
const queueDepth = 4

// Writer produces a saveset from a directory tree.
type Writer struct {
	opts         Options
	params       ftbblock.Params
	lastProgress time.Time
}

// New constructs a Writer. opts.Framer must be set (Cipher/Hasher are
// external collaborators per spec.md §1/§6).
func New(opts ...Option) *Writer {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	l2bs := uint8(bits.Len(uint(o.BlockSize)) - 1)
	return &Writer{
		opts:   o,
		params: ftbblock.Params{L2BS: l2bs, XorGC: o.XorGC, XorSC: o.XorSC},
	}
}

type historyNotice struct {
	name  string
	seqno uint32
	when  time.Time
}

// Backup walks root and writes a saveset starting at basePath (a plain
// file if segmentation is disabled, or the <base> segment-name prefix
// otherwise). ctx is checked between files so an interrupted backup stops
// at a file boundary instead of mid-write; pass context.Background() for
// no cancellation.
func (w *Writer) Backup(ctx context.Context, basePath, root string) error {
	if w.opts.Framer == nil {
		return xerrors.New("ftbwriter: Options.Framer must be set")
	}

	// A span on disk is xorgc*xorsc data blocks plus xorgc parity blocks.
	spanBytes := int64(w.params.XorGC) * (int64(w.params.XorSC) + 1) * int64(w.params.BlockSize())
	seg, err := newSegmentWriter(basePath, w.opts.SegmentSize, spanBytes)
	if err != nil {
		return err
	}

	items := make(chan ftbwalk.Item, queueDepth)
	blocks := make(chan *ftbblock.Block, queueDepth)
	var history chan historyNotice
	if w.opts.History != nil {
		history = make(chan historyNotice, queueDepth)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	walker := ftbwalk.NewWalker()
	walker.Since = w.opts.Since
	eg.Go(func() error {
		defer close(items)
		return walker.Walk(root, func(it ftbwalk.Item) error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			case items <- it:
				return nil
			}
		})
	})

	eg.Go(func() error {
		defer close(blocks)
		if history != nil {
			defer close(history)
		}
		return w.compress(items, blocks, history)
	})

	if history != nil {
		eg.Go(func() error {
			for n := range history {
				if err := w.opts.History.Record(w.opts.SavesetID, n.name, n.seqno, n.when); err != nil {
					return xerrors.Errorf("ftbwriter: history sink: %w", err)
				}
			}
			return nil
		})
	}

	eg.Go(func() error {
		return w.finish(blocks, seg)
	})

	if err := eg.Wait(); err != nil {
		seg.Close()
		return err
	}
	return seg.Close()
}

// compress is the second pipeline stage: consumes walker Items, packs
// header bytes as passthrough and regular-file content as deflate output
// into block bodies, and forwards filled blocks to the finisher.
func (w *Writer) compress(items <-chan ftbwalk.Item, blocks chan<- *ftbblock.Block, history chan<- historyNotice) error {
	bodyCap := w.opts.Framer.BodyCapacity(w.params.BlockSize())
	var seqno uint32
	acc := newBlockAccumulator(w.params, bodyCap, &seqno, blocks)

	var deflater *flate.Writer
	closeDeflate := func() error {
		if deflater == nil {
			return nil
		}
		err := deflater.Close()
		deflater = nil
		return err
	}

	for it := range items {
		// A header is always HEADER_PASSTHROUGH (spec.md §4.2's dty
		// taxonomy), so any open deflate stream from a prior file's
		// content must be flushed and closed before it, not only when
		// the new item itself turns out to be uncompressed.
		if err := closeDeflate(); err != nil {
			return xerrors.Errorf("ftbwriter: closing deflate stream: %w", err)
		}

		if it.Header.IsEnd() {
			acc.markHeaderStart()
			hb, err := it.Header.Encode()
			if err != nil {
				return err
			}
			if _, err := acc.Write(hb); err != nil {
				return err
			}
			acc.finishFinal()
			return nil
		}

		acc.markHeaderStart()
		hb, err := it.Header.Encode()
		if err != nil {
			return xerrors.Errorf("ftbwriter: encoding header for %s: %w", it.Header.Name, err)
		}
		if _, err := acc.Write(hb); err != nil {
			return err
		}

		if it.Body != nil {
			if it.Compress {
				if deflater == nil {
					deflater = flate.NewWriter(acc, flate.DefaultCompression)
				}
				if _, err := io.Copy(deflater, it.Body); err != nil {
					return xerrors.Errorf("ftbwriter: compressing %s: %w", it.Header.Name, err)
				}
			} else {
				if _, err := io.Copy(acc, it.Body); err != nil {
					return xerrors.Errorf("ftbwriter: writing %s: %w", it.Header.Name, err)
				}
			}
		}

		if history != nil {
			history <- historyNotice{name: it.Header.Name, seqno: seqno + 1, when: time.Now()}
		}
		if w.opts.Progress != nil && w.dueForProgress() {
			w.opts.Progress(it.Header.Name, int64(it.Header.Size), int64(it.Header.Size))
		}
	}
	return nil
}

// dueForProgress implements -verbose/-verbsec (original_source/ftbackup.cpp):
// VerboseSecs <= 0 means print every file (-verbose); otherwise print at
// most once per VerboseSecs (-verbsec). Only the compress stage calls this,
// so no locking is needed.
func (w *Writer) dueForProgress() bool {
	if w.opts.VerboseSecs <= 0 {
		return true
	}
	now := time.Now()
	if now.Sub(w.lastProgress) < time.Duration(w.opts.VerboseSecs)*time.Second {
		return false
	}
	w.lastProgress = now
	return true
}

// finish is the third pipeline stage: XORs each data block's body into
// its parity group's accumulator, hashes/optionally encrypts every block
// via the Framer, writes it to the current segment, and emits parity
// blocks at span boundaries.
func (w *Writer) finish(blocks <-chan *ftbblock.Block, seg *segmentWriter) error {
	bodyCap := w.opts.Framer.BodyCapacity(w.params.BlockSize())
	xorgc := int(w.params.XorGC)
	groupAccum := make([][]byte, xorgc)
	for i := range groupAccum {
		groupAccum[i] = make([]byte, bodyCap)
	}
	spanBlocks := w.params.SpanBlocks()
	var xorno uint32

	for b := range blocks {
		if xorgc > 0 {
			group := w.params.Group(b.Seqno)
			ftbxor.XorInto(groupAccum[group], b.Body)
		}

		raw, err := w.opts.Framer.Finish(b)
		if err != nil {
			return xerrors.Errorf("ftbwriter: finishing block %d: %w", b.Seqno, err)
		}
		if err := seg.Write(raw); err != nil {
			return err
		}

		if xorgc > 0 && spanBlocks > 0 && int(b.Seqno)%spanBlocks == 0 {
			for g := 0; g < xorgc; g++ {
				xorno++
				pb := &ftbblock.Block{
					Xorno:  xorno,
					Params: w.params,
					XorBC:  w.params.XorSC,
					Body:   groupAccum[g],
				}
				praw, err := w.opts.Framer.Finish(pb)
				if err != nil {
					return xerrors.Errorf("ftbwriter: finishing parity block %d: %w", xorno, err)
				}
				if err := seg.Write(praw); err != nil {
					return err
				}
				groupAccum[g] = make([]byte, bodyCap)
			}
		}
	}
	return nil
}
