package ftbreader

import "golang.org/x/xerrors"

// ErrSavesetEnded is returned when an EOF on the last segment is reached
// with content still expected (spec.md §7/§9: "Saveset-layer catastrophic
// errors (EOF with missing content) propagate as EndOfSSFile to the top of
// the reader"). It is the mapping of the reference implementation's
// EndOfSSFile exception into an ordinary Go error value.
var ErrSavesetEnded = xerrors.New("ftbreader: saveset ended unexpectedly")

// ErrAborted is returned when an interactive error prompt's answer is
// "abort".
var ErrAborted = xerrors.New("ftbreader: aborted by operator")

// BlockLostError is the mapping of the reference implementation's
// LostSSBlock exception (spec.md §9): a data block at Seqno could not be
// read or reconstructed. The caller (the stream layer) reacts by
// discarding decompressor state and resynchronizing on the next
// header-carrying block.
type BlockLostError struct {
	Seqno uint32
}

func (e *BlockLostError) Error() string {
	return xerrors.Errorf("ftbreader: block %d lost", e.Seqno).Error()
}

// FileLostError summarizes a resync per spec.md §4.3 "report the number of
// files lost (= fileno_found - last_fileno_completed - 1)".
type FileLostError struct {
	Count int
}

func (e *FileLostError) Error() string {
	return xerrors.Errorf("ftbreader: %d file(s) lost to block damage", e.Count).Error()
}
