package ftbreader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/ftbackup/ftbackup/internal/ftbsimerr"
)

// segmentSuffixWidth is the fixed decimal width of a segment number
// (spec.md §3/§6: "<base><NNNNNN>").
const segmentSuffixWidth = 6

// segmentSource is the reader-side counterpart of ftbwriter's
// segmentWriter: it opens a saveset's segments in order, rolling forward
// on physical EOF, and applies simulated-failure injection and the
// interactive retry prompt around every read (spec.md §4.3 "Segment / EOF
// / error handling").
type segmentSource struct {
	base      string
	segmented bool
	segIndex  int
	cur       *os.File
	stdin     bool

	isBlockDev bool
	segPos     int64 // position within the current segment, for pread
	pos        int64 // cumulative position across the whole saveset, for simrderrs

	simErr *ftbsimerr.Log
	simMod *ftbsimerr.Modulus
	prompt PromptFunc
}

// splitSegmentSuffix reports whether name ends in exactly a 6-digit
// decimal suffix, per spec.md §4.3 "if the supplied name ends in exactly
// the decimal-digits suffix, treat it as a starting segment."
func splitSegmentSuffix(name string) (base string, n int, ok bool) {
	if len(name) < segmentSuffixWidth {
		return "", 0, false
	}
	suf := name[len(name)-segmentSuffixWidth:]
	for _, c := range suf {
		if c < '0' || c > '9' {
			return "", 0, false
		}
	}
	v, err := strconv.Atoi(suf)
	if err != nil {
		return "", 0, false
	}
	return name[:len(name)-segmentSuffixWidth], v, true
}

// openSaveset implements spec.md §4.3 "Opening a saveset": a plain
// regular-file name is opened directly; a name ending in a 6-digit suffix
// starts segmented from that index; otherwise, if name is a directory or
// absent, the smallest-numbered "<name><NNNNNN>" is located. "-" opens
// standard input.
func openSaveset(name string, simErr *ftbsimerr.Log, simMod *ftbsimerr.Modulus, prompt PromptFunc) (*segmentSource, error) {
	s := &segmentSource{simErr: simErr, simMod: simMod, prompt: prompt}

	if name == "-" {
		s.stdin = true
		s.cur = os.Stdin
		return s, nil
	}

	if fi, err := os.Stat(name); err == nil && fi.Mode().IsRegular() {
		if base, n, ok := splitSegmentSuffix(name); ok {
			if _, statErr := os.Stat(base + fmt.Sprintf("%0*d", segmentSuffixWidth, n+1)); statErr == nil {
				s.base, s.segIndex, s.segmented = base, n, true
			}
		}
		f, err := os.Open(name)
		if err != nil {
			return nil, xerrors.Errorf("ftbreader: opening %s: %w", name, err)
		}
		s.cur = f
		s.detectBlockDev(fi)
		if !s.segmented {
			s.base = name
		}
		return s, nil
	}

	dir, prefix := filepath.Dir(name), filepath.Base(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("ftbreader: locating segments for %s: %w", name, err)
	}
	best := -1
	for _, e := range entries {
		n := e.Name()
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		suf := n[len(prefix):]
		if len(suf) != segmentSuffixWidth {
			continue
		}
		v, err := strconv.Atoi(suf)
		if err != nil || v <= 0 {
			continue
		}
		if best == -1 || v < best {
			best = v
		}
	}
	if best == -1 {
		return nil, xerrors.Errorf("ftbreader: no segments found for %s", name)
	}
	path := name + fmt.Sprintf("%0*d", segmentSuffixWidth, best)
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("ftbreader: opening %s: %w", path, err)
	}
	s.base, s.segmented, s.segIndex, s.cur = name, true, best, f
	if fi, err := f.Stat(); err == nil {
		s.detectBlockDev(fi)
	}
	return s, nil
}

func (s *segmentSource) detectBlockDev(fi os.FileInfo) {
	s.isBlockDev = fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0
}

func (s *segmentSource) openNext() error {
	if s.stdin {
		return io.EOF
	}
	if s.cur != nil {
		s.cur.Close()
	}
	s.segIndex++
	path := s.base + fmt.Sprintf("%0*d", segmentSuffixWidth, s.segIndex)
	f, err := os.Open(path)
	if err != nil {
		return io.EOF // no further segment: propagate as saveset EOF
	}
	s.cur = f
	s.segPos = 0
	if fi, err := f.Stat(); err == nil {
		s.detectBlockDev(fi)
	}
	return nil
}

// rawRead issues one physical read: pread at the tracked segment offset
// for block devices (spec.md §4.3 "block devices use direct pread"),
// ordinary sequential Read otherwise (regular files and pipes alike; a
// pipe's "virtual position" falls out naturally since nothing ever seeks
// backwards in this reader).
func (s *segmentSource) rawRead(p []byte) (int, error) {
	if s.isBlockDev {
		n, err := unix.Pread(int(s.cur.Fd()), p, s.segPos)
		s.segPos += int64(n)
		return n, err
	}
	n, err := s.cur.Read(p)
	s.segPos += int64(n)
	return n, err
}

// handleReadError consults the interactive prompt (if configured) on an
// I/O error that a plain retry-the-short-read loop couldn't absorb.
// Non-interactive runs (prompt == nil) treat every such error as fatal,
// matching "close releases the fd... retry reopens" being meaningless
// without an operator to choose.
func (s *segmentSource) handleReadError(err error) (retry bool, out error) {
	if s.prompt == nil {
		return false, err
	}
	switch s.prompt(s.base, s.pos, err) {
	case ChoiceAbort:
		return false, ErrAborted
	case ChoiceClose:
		s.cur.Close()
		return false, err
	case ChoiceRetry:
		return true, nil
	default: // ChoiceSkip, ChoiceSkipAll: the error is returned as for close; the failed read is not skipped past
		return false, err
	}
}

// ReadFull reads exactly len(p) bytes, retrying short reads (spec.md
// §4.3 "short reads and read errors on regular files are retryable"),
// rolling to the next segment on physical EOF, and injecting simulated
// failures from simrderrs before each physical read.
func (s *segmentSource) ReadFull(p []byte) error {
	got := 0
	for got < len(p) {
		if (s.simErr != nil && s.simErr.ShouldFailAt(s.pos)) || (s.simMod != nil && s.simMod.ShouldFail()) {
			retry, err := s.handleReadError(xerrors.New("ftbreader: simulated read failure"))
			if err != nil {
				return err
			}
			if retry {
				continue
			}
			return xerrors.New("ftbreader: simulated read failure")
		}

		n, err := s.rawRead(p[got:])
		got += n
		s.pos += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF {
			if got == len(p) {
				continue
			}
			if s.segmented {
				if oerr := s.openNext(); oerr != nil {
					return oerr
				}
				continue
			}
			return io.EOF
		}
		retry, herr := s.handleReadError(err)
		if herr != nil {
			return herr
		}
		if !retry {
			return err
		}
	}
	return nil
}

func (s *segmentSource) Close() error {
	if s.cur == nil || s.stdin {
		return nil
	}
	return s.cur.Close()
}
