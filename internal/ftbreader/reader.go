// Package ftbreader implements the reader side of a saveset: segment
// opening, first-block calibration, XOR-aware block dispatch, the
// compressed/passthrough stream layer, header resync after loss, and
// restore dispatch through internal/ftbfsaccess (spec.md §4.3).
package ftbreader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/ftbackup/ftbackup/internal/ftbblock"
	"github.com/ftbackup/ftbackup/internal/ftbfsaccess"
)

// Reader drives a saveset through the block/stream/restore layers for
// Restore, Compare (both via Options.FSAccess's write semantics) and List.
type Reader struct {
	opts Options
}

// New constructs a Reader. opts.Framer must be set before Restore/Compare/
// List/DumpRecord/VerifyXOR are called.
func New(opts ...Option) *Reader {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Reader{opts: o}
}

// TTYPrompt builds a PromptFunc that asks on stdin/stdout when stdin is a
// terminal (detected with github.com/mattn/go-isatty, the same check the
// teacher's CLI uses for terminal feature detection) and otherwise answers
// "skip" for every error, there being no operator present to ask.
func TTYPrompt() PromptFunc {
	return func(path string, offset int64, err error) Choice {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return ChoiceSkip
		}
		fmt.Fprintf(os.Stderr, "ftbreader: error at %s offset %d: %v\n[a]bort [c]lose [r]etry [s]kip [A]ll-skip? ", path, offset, err)
		sc := bufio.NewScanner(os.Stdin)
		if !sc.Scan() {
			return ChoiceAbort
		}
		switch sc.Text() {
		case "a":
			return ChoiceAbort
		case "c":
			return ChoiceClose
		case "r":
			return ChoiceRetry
		case "A":
			return ChoiceSkipAll
		default:
			return ChoiceSkip
		}
	}
}

// run drives the shared segment/block/stream/restore pipeline: every
// header is decoded off the block-body cursor and handed to restorer,
// with header resync engaging on any *BlockLostError encountered either
// while parsing a header or while reading a file's content. ctx is checked
// once per header so an interrupted restore/compare stops at a file
// boundary instead of mid-write. A compare mismatch is logged and the walk
// goes on; the first one is returned once the walk is done.
func (rd *Reader) run(ctx context.Context, savesetPath, destRoot string, restorer *Restorer) error {
	if rd.opts.Framer == nil {
		return xerrors.New("ftbreader: Options.Framer must be set")
	}
	src, err := openSaveset(savesetPath, rd.opts.SimErr, rd.opts.SimMod, rd.opts.Prompt)
	if err != nil {
		return err
	}
	defer src.Close()

	br := newBlockReader(src, rd.opts.Framer, rd.opts.Log)
	bbr := newBlockBodyReader(br)
	var lastProgress time.Time
	var firstMismatch error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, err := readHeader(bbr)
		if err != nil {
			var lost *BlockLostError
			if xerrors.As(err, &lost) {
				if err := bbr.resyncAfterLoss(); err != nil {
					return err
				}
				continue
			}
			if err == io.EOF {
				break
			}
			return err
		}
		if h.IsEnd() {
			break
		}

		if err := restorer.Restore(h, bbr); err != nil {
			if err == errSelectionDone {
				break
			}
			var lost *BlockLostError
			if xerrors.As(err, &lost) {
				if err := bbr.resyncAfterLoss(); err != nil {
					return err
				}
				continue
			}
			var mismatch *ftbfsaccess.ErrDataCompareMismatch
			if xerrors.As(err, &mismatch) {
				if rd.opts.Log != nil {
					rd.opts.Log.Print(err)
				}
				if firstMismatch == nil {
					firstMismatch = err
				}
				continue
			}
			return err
		}
		if rd.opts.Progress != nil && dueForProgress(rd.opts.VerboseSecs, &lastProgress) {
			rd.opts.Progress(h.Name, int64(h.Size), int64(h.Size))
		}
	}
	if err := restorer.Finish(); err != nil {
		return err
	}
	return firstMismatch
}

// dueForProgress implements -verbose/-verbsec (original_source/ftbackup.cpp):
// verboseSecs <= 0 means print every file (-verbose); otherwise print at
// most once per verboseSecs (-verbsec).
func dueForProgress(verboseSecs int, last *time.Time) bool {
	if verboseSecs <= 0 {
		return true
	}
	now := time.Now()
	if now.Sub(*last) < time.Duration(verboseSecs)*time.Second {
		return false
	}
	*last = now
	return true
}

// Restore extracts savesetPath into destRoot through Options.FSAccess,
// which must be the "full" variant to actually write anything. Pass
// context.Background() for no cancellation.
func (rd *Reader) Restore(ctx context.Context, savesetPath, destRoot string) error {
	if rd.opts.FSAccess == nil {
		return xerrors.New("ftbreader: Options.FSAccess must be set")
	}
	return rd.run(ctx, savesetPath, destRoot, newRestorer(rd.opts.FSAccess, destRoot, rd.opts))
}

// Compare walks savesetPath and checks it against destRoot through
// Options.FSAccess, which must be the "compare" variant (spec.md §4.3's
// FSAccess table) to report mismatches instead of writing.
func (rd *Reader) Compare(ctx context.Context, savesetPath, destRoot string) error {
	if rd.opts.FSAccess == nil {
		return xerrors.New("ftbreader: Options.FSAccess must be set")
	}
	return rd.run(ctx, savesetPath, destRoot, newRestorer(rd.opts.FSAccess, destRoot, rd.opts))
}

// List walks savesetPath's headers without touching the filesystem,
// calling fn for each one; fn returning a non-nil error stops the walk and
// is returned from List unchanged.
func (rd *Reader) List(ctx context.Context, savesetPath string, fn func(h *ftbblock.Header) error) error {
	if rd.opts.Framer == nil {
		return xerrors.New("ftbreader: Options.Framer must be set")
	}
	src, err := openSaveset(savesetPath, rd.opts.SimErr, rd.opts.SimMod, rd.opts.Prompt)
	if err != nil {
		return err
	}
	defer src.Close()

	br := newBlockReader(src, rd.opts.Framer, rd.opts.Log)
	bbr := newBlockBodyReader(br)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, err := readHeader(bbr)
		if err != nil {
			var lost *BlockLostError
			if xerrors.As(err, &lost) {
				if err := bbr.resyncAfterLoss(); err != nil {
					return err
				}
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
		if h.IsEnd() {
			return nil
		}
		if err := fn(h); err != nil {
			return err
		}
		if err := drainContent(bbr, h); err != nil {
			var lost *BlockLostError
			if xerrors.As(err, &lost) {
				if err := bbr.resyncAfterLoss(); err != nil {
					return err
				}
				continue
			}
			return err
		}
	}
}
