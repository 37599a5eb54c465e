// Package ftbwalk implements the writer-pipeline walker spec.md §4.2
// describes: sorted directory traversal, the two in-tree skip-file
// signals, mountpoint handling, the since-filter, and hardlink detection.
// It is the producer stage of the writer pipeline; internal/ftbwriter
// drives it and feeds its output to the compressor goroutine.
package ftbwalk

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/ftbackup/ftbackup/internal/ftbblock"
	"github.com/ftbackup/ftbackup/internal/ftbmatch"
)

const (
	skipDirFile   = "~SKIPDIR.FTB"
	skipNamesFile = "~SKIPNAMES.FTB"
)

// Item is one unit the walker emits: a header plus its payload body ready
// to stream into the compressor goroutine (spec.md §4.2). Body is nil for
// the end-of-saveset sentinel; for every other kind it yields exactly
// Header.Size bytes (device special: 8 raw bytes encoding the rdev).
type Item struct {
	Header   *ftbblock.Header
	Body     io.Reader
	Compress bool // true for regular-file content; false for headers and small metadata payloads
}

type hardlinkKey struct {
	dev, ino, mtimeNS uint64
}

// HardlinkTable maps (dev, ino, mtimens) to the fileno of the first
// encountered file with that identity, per spec.md §3's hardlink map.
type HardlinkTable struct {
	m map[hardlinkKey]uint32
}

func NewHardlinkTable() *HardlinkTable { return &HardlinkTable{m: make(map[hardlinkKey]uint32)} }

func (t *HardlinkTable) lookup(dev, ino, mtimeNS uint64) (uint32, bool) {
	fn, ok := t.m[hardlinkKey{dev, ino, mtimeNS}]
	return fn, ok
}

func (t *HardlinkTable) record(dev, ino, mtimeNS uint64, fileno uint32) {
	t.m[hardlinkKey{dev, ino, mtimeNS}] = fileno
}

// SinceFilter decides whether content emission should be skipped for a
// given ctime (spec.md §4.2/§8: the test is ctime < since, so a file whose
// ctime exactly equals since is still included).
type SinceFilter struct {
	SinceNS uint64
}

func (s *SinceFilter) skipContent(ctimeNS uint64) bool {
	if s == nil {
		return false
	}
	return ctimeNS < s.SinceNS
}

// Walker walks a source tree emitting Items in sorted order.
type Walker struct {
	Since     *SinceFilter
	Hardlinks *HardlinkTable

	rootDev    uint64
	haveRoot   bool
	nextFileNo uint32
}

func NewWalker() *Walker {
	return &Walker{Hardlinks: NewHardlinkTable(), nextFileNo: 1}
}

// Walk traverses root, calling emit for every Item in archive order,
// terminating with an Item whose Header is the end-of-saveset sentinel.
func (w *Walker) Walk(root string, emit func(Item) error) error {
	var st unix.Stat_t
	if err := unix.Lstat(root, &st); err != nil {
		return xerrors.Errorf("ftbwalk: stat root %s: %w", root, err)
	}
	w.rootDev = st.Dev
	w.haveRoot = true

	if err := w.walkDir(root, "", nil, emit); err != nil {
		return err
	}
	return emit(Item{Header: ftbblock.EndHeader()})
}

// walkDir walks one directory. archivedName is the path as it should
// appear in the saveset (root-relative, empty for root itself); inherited
// is the set of ~SKIPNAMES.FTB wildcards inherited from ancestor
// directories, to which this directory's own skip file is additive.
func (w *Walker) walkDir(diskPath, archivedName string, inherited []string, emit func(Item) error) error {
	var st unix.Stat_t
	if err := unix.Lstat(diskPath, &st); err != nil {
		return xerrors.Errorf("ftbwalk: stat %s: %w", diskPath, err)
	}

	isMountpoint := w.haveRoot && st.Dev != w.rootDev && archivedName != ""
	forceEmpty := isMountpoint

	entries, skipNames, err := w.readDirSorted(diskPath, inherited)
	if err != nil {
		return err
	}
	if _, ok := skipLookup(entries, skipDirFile); ok {
		forceEmpty = true
	}

	if err := w.emitDirHeader(diskPath, archivedName, &st, entries, forceEmpty, emit); err != nil {
		return err
	}
	if forceEmpty {
		return nil
	}

	for _, name := range entries {
		if name == skipDirFile || name == skipNamesFile {
			continue
		}
		if matchesAny(skipNames, name) {
			continue
		}
		childDisk := filepath.Join(diskPath, name)
		childArchived := name
		if archivedName != "" {
			childArchived = archivedName + "/" + name
		}
		if err := w.walkEntry(childDisk, childArchived, skipNames, emit); err != nil {
			return err
		}
	}
	return nil
}

// walkEntry dispatches a single directory child by file kind.
func (w *Walker) walkEntry(diskPath, archivedName string, inherited []string, emit func(Item) error) error {
	var st unix.Stat_t
	if err := unix.Lstat(diskPath, &st); err != nil {
		return xerrors.Errorf("ftbwalk: stat %s: %w", diskPath, err)
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFSOCK:
		return nil // sockets are not representable in the archive
	case unix.S_IFDIR:
		return w.walkDir(diskPath, archivedName, inherited, emit)
	case unix.S_IFLNK:
		return w.emitSymlink(diskPath, archivedName, &st, emit)
	case unix.S_IFCHR, unix.S_IFBLK, unix.S_IFIFO:
		return w.emitSpecial(archivedName, &st, emit)
	default:
		return w.emitRegular(diskPath, archivedName, &st, emit)
	}
}

func (w *Walker) newHeader(archivedName string, st *unix.Stat_t) *ftbblock.Header {
	fn := w.nextFileNo
	w.nextFileNo++
	return &ftbblock.Header{
		MtimeNS: uint64(st.Mtim.Sec)*1e9 + uint64(st.Mtim.Nsec),
		CtimeNS: uint64(st.Ctim.Sec)*1e9 + uint64(st.Ctim.Nsec),
		AtimeNS: uint64(st.Atim.Sec)*1e9 + uint64(st.Atim.Nsec),
		FileNo:  fn,
		StMode:  st.Mode,
		OwnUID:  st.Uid,
		OwnGID:  st.Gid,
		Name:    archivedName,
	}
}

func (w *Walker) emitDirHeader(diskPath, archivedName string, st *unix.Stat_t, entries []string, forceEmpty bool, emit func(Item) error) error {
	h := w.newHeader(archivedName, st)
	children := entries
	if forceEmpty {
		children = nil
	}
	blob := ftbblock.EncodeDirChildren(children)
	h.Size = uint64(len(blob))
	return emit(Item{Header: h, Body: strings.NewReader(string(blob))})
}

func (w *Walker) emitSymlink(diskPath, archivedName string, st *unix.Stat_t, emit func(Item) error) error {
	target, err := os.Readlink(diskPath)
	if err != nil {
		return xerrors.Errorf("ftbwalk: readlink %s: %w", diskPath, err)
	}
	h := w.newHeader(archivedName, st)
	if w.Since.skipContent(h.CtimeNS) {
		return nil // elide header for a since-filtered symlink (spec.md §4.2)
	}
	h.Size = uint64(len(target))
	return emit(Item{Header: h, Body: strings.NewReader(target)})
}

func (w *Walker) emitSpecial(archivedName string, st *unix.Stat_t, emit func(Item) error) error {
	h := w.newHeader(archivedName, st)
	if w.Since.skipContent(h.CtimeNS) {
		return nil
	}
	h.Size = 8
	var buf [8]byte
	putLE64(buf[:], st.Rdev)
	return emit(Item{Header: h, Body: strings.NewReader(string(buf[:]))})
}

func (w *Walker) emitRegular(diskPath, archivedName string, st *unix.Stat_t, emit func(Item) error) error {
	mtimeNS := uint64(st.Mtim.Sec)*1e9 + uint64(st.Mtim.Nsec)
	if fn, ok := w.Hardlinks.lookup(st.Dev, st.Ino, mtimeNS); ok {
		h := w.newHeader(archivedName, st)
		h.Flags |= ftbblock.HFlHardlink
		h.Size = 4
		var buf [4]byte
		putLE32(buf[:], fn)
		return emit(Item{Header: h, Body: strings.NewReader(string(buf[:]))})
	}

	h := w.newHeader(archivedName, st)
	w.Hardlinks.record(st.Dev, st.Ino, mtimeNS, h.FileNo)

	if w.Since.skipContent(h.CtimeNS) {
		return nil // recorded in the hardlink table above even though skipped; see DESIGN.md
	}

	f, err := os.Open(diskPath)
	if err != nil {
		return xerrors.Errorf("ftbwalk: open %s: %w", diskPath, err)
	}
	h.Size = uint64(st.Size)
	return emit(Item{Header: h, Body: &closingReader{f: f, n: st.Size}, Compress: true})
}

// closingReader streams exactly n bytes from f (the size captured at
// header time, spec.md §8 "a file whose size changes during backup is
// emitted with the size captured at header time") and closes f once
// fully drained or on error; short reads pad with 0x69.
type closingReader struct {
	f    *os.File
	n    int64
	read int64
}

func (r *closingReader) Read(p []byte) (int, error) {
	if r.read >= r.n {
		r.f.Close()
		return 0, io.EOF
	}
	if int64(len(p)) > r.n-r.read {
		p = p[:r.n-r.read]
	}
	n, err := r.f.Read(p)
	r.read += int64(n)
	if err == io.EOF && r.read < r.n {
		// Source shrank mid-backup: pad remaining declared bytes with
		// 0x69 rather than truncating the header's promised size.
		for i := n; i < len(p); i++ {
			p[i] = 0x69
			r.read++
		}
		return len(p), nil
	}
	if err != nil {
		r.f.Close()
		return n, err
	}
	if r.read >= r.n {
		r.f.Close()
	}
	return n, nil
}

// readDirSorted lists diskPath's children in unsigned-byte lexicographic
// order and returns the combined skip-names wildcard set (inherited plus
// this directory's own ~SKIPNAMES.FTB, per spec.md §4.2).
func (w *Walker) readDirSorted(diskPath string, inherited []string) ([]string, []string, error) {
	entries, err := os.ReadDir(diskPath)
	if err != nil {
		return nil, nil, xerrors.Errorf("ftbwalk: readdir %s: %w", diskPath, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	skipNames := append([]string(nil), inherited...)
	if _, ok := skipLookup(names, skipNamesFile); ok {
		extra, err := parseSkipNames(filepath.Join(diskPath, skipNamesFile))
		if err != nil {
			return nil, nil, err
		}
		skipNames = append(skipNames, extra...)
	}
	return names, skipNames, nil
}

func skipLookup(names []string, want string) (int, bool) {
	i := sort.SearchStrings(names, want)
	if i < len(names) && names[i] == want {
		return i, true
	}
	return 0, false
}

func parseSkipNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("ftbwalk: open %s: %w", path, err)
	}
	defer f.Close()
	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, sc.Err()
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := ftbmatch.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
