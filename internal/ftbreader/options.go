package ftbreader

import (
	"log"
	"time"

	"github.com/ftbackup/ftbackup/internal/ftbcipher"
	"github.com/ftbackup/ftbackup/internal/ftbfsaccess"
	"github.com/ftbackup/ftbackup/internal/ftbmatch"
	"github.com/ftbackup/ftbackup/internal/ftbsimerr"
)

// PromptFunc implements the interactive error handler spec.md §4.3
// describes: on an unrecoverable read error at a tty, present
// {abort, close, retry, skip, skipall} and return the operator's choice.
type PromptFunc func(path string, offset int64, err error) Choice

// Choice is an operator's answer to a PromptFunc.
type Choice int

const (
	ChoiceAbort Choice = iota
	ChoiceClose
	ChoiceRetry
	ChoiceSkip
	ChoiceSkipAll
)

// Options configures a Reader. Mirrors internal/ftbwriter.Options'
// functional-options shape (KarpelesLab-squashfs's WithBlockSize/
// WithCompression pattern).
type Options struct {
	Framer      *ftbcipher.Framer
	FSAccess    ftbfsaccess.FSAccess
	Selectors   []ftbmatch.Selector
	Incremental bool
	Overwrite   bool
	Mkdirs      bool
	SimErr      *ftbsimerr.Log
	SimMod      *ftbsimerr.Modulus
	Prompt      PromptFunc // nil means "non-interactive": treat every unrecoverable error as abort
	Log         *log.Logger
	Progress    func(path string, done, total int64)
	VerboseSecs int
}

type Option func(*Options)

func WithFramer(f *ftbcipher.Framer) Option { return func(o *Options) { o.Framer = f } }

func WithFSAccess(fs ftbfsaccess.FSAccess) Option { return func(o *Options) { o.FSAccess = fs } }

func WithSelectors(sel []ftbmatch.Selector) Option { return func(o *Options) { o.Selectors = sel } }

func WithIncremental(v bool) Option { return func(o *Options) { o.Incremental = v } }

func WithOverwrite(v bool) Option { return func(o *Options) { o.Overwrite = v } }

func WithMkdirs(v bool) Option { return func(o *Options) { o.Mkdirs = v } }

func WithSimErrLog(l *ftbsimerr.Log) Option { return func(o *Options) { o.SimErr = l } }

func WithSimErrModulus(m *ftbsimerr.Modulus) Option { return func(o *Options) { o.SimMod = m } }

func WithPrompt(fn PromptFunc) Option { return func(o *Options) { o.Prompt = fn } }

func WithLogger(l *log.Logger) Option { return func(o *Options) { o.Log = l } }

func WithProgress(fn func(path string, done, total int64)) Option {
	return func(o *Options) { o.Progress = fn }
}

func WithVerboseSecs(n int) Option { return func(o *Options) { o.VerboseSecs = n } }

func defaultOptions() Options {
	return Options{
		Mkdirs: true,
		Log:    log.Default(),
	}
}
