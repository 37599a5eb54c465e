// Package ftbsince implements the since-file format spec.md §6 describes:
// a sorted record of (ctimens, path) tuples. No other package of this
// module imports it: the walker's since filter (ftbwalk.SinceFilter) takes
// a single nanosecond ctime cutoff instead. It is a small
// line-oriented decoder package in the teacher's internal/env style.
package ftbsince

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Entry is one (ctime, path) record.
type Entry struct {
	CtimeNS uint64
	Path    string
}

// File is a parsed since-file: entries sorted by Path for binary lookup.
type File struct {
	entries []Entry
}

// Parse reads a since-file: one "ctimens\tpath" record per line.
func Parse(r io.Reader) (*File, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			return nil, xerrors.Errorf("ftbsince: malformed line %q: missing tab", line)
		}
		ctime, err := strconv.ParseUint(line[:tab], 10, 64)
		if err != nil {
			return nil, xerrors.Errorf("ftbsince: malformed ctime in line %q: %w", line, err)
		}
		entries = append(entries, Entry{CtimeNS: ctime, Path: line[tab+1:]})
	}
	if err := sc.Err(); err != nil {
		return nil, xerrors.Errorf("ftbsince: reading: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return &File{entries: entries}, nil
}

// Write serializes entries (which need not be pre-sorted) to w.
func Write(w io.Writer, entries []Entry) error {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	bw := bufio.NewWriter(w)
	for _, e := range sorted {
		if _, err := bw.WriteString(strconv.FormatUint(e.CtimeNS, 10)); err != nil {
			return err
		}
		if err := bw.WriteByte('\t'); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.Path); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// CtimeFor looks up the recorded ctime for path, if any.
func (f *File) CtimeFor(path string) (ctimeNS uint64, ok bool) {
	i := sort.Search(len(f.entries), func(i int) bool { return f.entries[i].Path >= path })
	if i < len(f.entries) && f.entries[i].Path == path {
		return f.entries[i].CtimeNS, true
	}
	return 0, false
}

// Skip reports whether content for path with the given ctime should be
// skipped: spec.md §8 "since at exactly the file's ctime includes the
// file" — the test is ctime < since, not <=.
func Skip(sinceNS, ctimeNS uint64) bool {
	return ctimeNS < sinceNS
}
