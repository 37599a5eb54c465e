package ftbwriter

import (
	"fmt"
	"os"

	"golang.org/x/xerrors"
)

// segmentWriter writes a stream of already-framed block bytes across one
// or more segment files, rolling to the next numbered segment when the
// configured size limit is hit (spec.md §3/§4.2/§6: "<base><NNNNNN>" with
// a fixed 6-digit decimal width, segments sized as whole spans).
type segmentWriter struct {
	base       string
	limit      int64 // 0 disables segmentation
	spanBytes  int64 // bytes per span, segments are checked against multiples of this
	segIndex   int
	cur        *os.File
	curWritten int64
	segmented  bool
}

func newSegmentWriter(base string, limit int64, spanBytes int64) (*segmentWriter, error) {
	sw := &segmentWriter{base: base, limit: limit, spanBytes: spanBytes}
	if limit > 0 {
		if spanBytes <= 0 || limit%spanBytes != 0 {
			return nil, xerrors.Errorf("ftbwriter: segment size %d is not a multiple of the span size %d bytes", limit, spanBytes)
		}
		sw.segmented = true
	}
	if err := sw.openNext(); err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *segmentWriter) openNext() error {
	if sw.cur != nil {
		if err := sw.cur.Close(); err != nil {
			return err
		}
	}
	path := sw.base
	if sw.segmented {
		sw.segIndex++
		path = fmt.Sprintf("%s%06d", sw.base, sw.segIndex)
	}
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("ftbwriter: creating segment %s: %w", path, err)
	}
	sw.cur = f
	sw.curWritten = 0
	return nil
}

// Write writes one already-framed block's raw bytes, rolling to the next
// segment first if this block would exceed the size limit. A block is
// never split across segments (segsize is a multiple of the span size,
// which is itself a multiple of the block size).
func (sw *segmentWriter) Write(raw []byte) error {
	if sw.segmented && sw.curWritten > 0 && sw.curWritten+int64(len(raw)) > sw.limit {
		if err := sw.openNext(); err != nil {
			return err
		}
	}
	n, err := sw.cur.Write(raw)
	sw.curWritten += int64(n)
	if err != nil {
		return xerrors.Errorf("ftbwriter: writing segment: %w", err)
	}
	return nil
}

func (sw *segmentWriter) Close() error {
	if sw.cur == nil {
		return nil
	}
	return sw.cur.Close()
}
