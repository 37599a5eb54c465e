// Package ftbsimerr implements the simrderrs replay-log format spec.md §6
// describes: a line-oriented log of (offset, timeval, timeval) tuples used
// to reproducibly inject simulated saveset read failures, and the replay
// engine the reader consults to decide whether a given read should fail.
package ftbsimerr

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Event is one simulated-failure record: a byte offset into the saveset
// and the two timeval-resolution timestamps the reference tool logs
// alongside it (injection time and a secondary marker used for replay
// ordering when multiple events share an offset).
type Event struct {
	Offset int64
	T1, T2 time.Time
}

// Log is a parsed simrderrs replay file: events in file order, consulted
// by offset.
type Log struct {
	events []Event
	next   int
}

// Parse reads a simrderrs log: one "offset\tsec1.usec1\tsec2.usec2" record
// per line.
func Parse(r io.Reader) (*Log, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, xerrors.Errorf("ftbsimerr: malformed line %q: want 3 tab-separated fields", line)
		}
		off, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, xerrors.Errorf("ftbsimerr: malformed offset in %q: %w", line, err)
		}
		t1, err := parseTimeval(fields[1])
		if err != nil {
			return nil, xerrors.Errorf("ftbsimerr: malformed timeval in %q: %w", line, err)
		}
		t2, err := parseTimeval(fields[2])
		if err != nil {
			return nil, xerrors.Errorf("ftbsimerr: malformed timeval in %q: %w", line, err)
		}
		events = append(events, Event{Offset: off, T1: t1, T2: t2})
	}
	if err := sc.Err(); err != nil {
		return nil, xerrors.Errorf("ftbsimerr: reading: %w", err)
	}
	return &Log{events: events}, nil
}

func parseTimeval(s string) (time.Time, error) {
	parts := strings.SplitN(s, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	var usec int64
	if len(parts) == 2 {
		usec, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return time.Time{}, err
		}
	}
	return time.Unix(sec, usec*1000), nil
}

// WriteEvent appends one event to w in the on-disk format, for a caller
// recording simulated failures as it injects them.
func WriteEvent(w io.Writer, ev Event) error {
	_, err := fmt.Fprintf(w, "%d\t%d.%06d\t%d.%06d\n",
		ev.Offset,
		ev.T1.Unix(), ev.T1.Nanosecond()/1000,
		ev.T2.Unix(), ev.T2.Nanosecond()/1000)
	return err
}

// Modulus reproduces simrderrs' other mode: rather than (or alongside) a
// replay log, a configured modulus injects a simulated failure every Nth
// read at a deterministic offset.
type Modulus struct {
	N     int64
	count int64
}

// ShouldFail advances the counter and reports whether this read should be
// simulated as failed: every Nth call fails, counting calls from 1.
func (m *Modulus) ShouldFail() bool {
	if m.N <= 0 {
		return false
	}
	m.count++
	return m.count%m.N == 0
}

// ShouldFailAt reports whether the replay log records a simulated failure
// at exactly this saveset byte offset, consuming the log in order (the
// reference tool's replay is strictly sequential, matching the reader's
// own sequential access pattern).
func (l *Log) ShouldFailAt(offset int64) bool {
	if l.next >= len(l.events) {
		return false
	}
	if l.events[l.next].Offset == offset {
		l.next++
		return true
	}
	return false
}
