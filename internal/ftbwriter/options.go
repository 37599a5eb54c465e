package ftbwriter

import (
	"log"
	"time"

	"github.com/ftbackup/ftbackup/internal/ftbcipher"
	"github.com/ftbackup/ftbackup/internal/ftbwalk"
)

// HistorySink receives (filename, seqno, timestamp) notifications for
// files as they are written into a saveset; the saveset identity is bound
// once at construction (spec.md §6's HistorySink collaborator). The
// database behind it is external, per spec.md §1's Non-goals.
type HistorySink interface {
	Record(savesetID, filename string, seqno uint32, timestamp time.Time) error
}

// Options configures a Writer. Defaults match spec.md §3's stated
// defaults (32 KiB blocks, xorsc=31, xorgc=2).
type Options struct {
	BlockSize   int
	XorGC       uint8
	XorSC       uint8
	SegmentSize int64 // 0 disables segmentation (single saveset file)
	Framer      *ftbcipher.Framer
	History     HistorySink
	SavesetID   string
	Log         *log.Logger
	Progress    func(path string, done, total int64)
	VerboseSecs int
	Since       *ftbwalk.SinceFilter
}

// Option mutates Options; grounded on KarpelesLab-squashfs's
// WithBlockSize/WithCompression functional-option pattern, the clearest
// example of this idiom in the retrieval pack.
type Option func(*Options)

func WithBlockSize(n int) Option { return func(o *Options) { o.BlockSize = n } }

func WithXOR(groupCount, spanCount uint8) Option {
	return func(o *Options) { o.XorGC = groupCount; o.XorSC = spanCount }
}

func WithSegmentSize(n int64) Option { return func(o *Options) { o.SegmentSize = n } }

func WithFramer(f *ftbcipher.Framer) Option { return func(o *Options) { o.Framer = f } }

func WithHistorySink(sink HistorySink, savesetID string) Option {
	return func(o *Options) { o.History = sink; o.SavesetID = savesetID }
}

func WithLogger(l *log.Logger) Option { return func(o *Options) { o.Log = l } }

func WithProgress(fn func(path string, done, total int64)) Option {
	return func(o *Options) { o.Progress = fn }
}

func WithVerboseSecs(n int) Option { return func(o *Options) { o.VerboseSecs = n } }

func WithSince(sinceNS uint64) Option {
	return func(o *Options) { o.Since = &ftbwalk.SinceFilter{SinceNS: sinceNS} }
}

func defaultOptions() Options {
	return Options{
		BlockSize: 32 * 1024,
		XorGC:     2,
		XorSC:     31,
		Log:       log.Default(),
	}
}
