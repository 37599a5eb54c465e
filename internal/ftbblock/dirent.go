package ftbblock

import (
	"bytes"

	"golang.org/x/xerrors"
)

// EncodeDirChildren serializes a directory's sorted child-name list using
// the delta-compression scheme from spec.md §3/§4.1: a sequence of
// (numsame: u8, suffix: bytes, 0) triples, where numsame is the count of
// leading bytes shared with the previously emitted name. names must already
// be in unsigned-byte lexicographic order; the first triple always has
// numsame = 0.
func EncodeDirChildren(names []string) []byte {
	var buf bytes.Buffer
	var prev string
	for _, name := range names {
		n := commonPrefixLen(prev, name)
		if n > 255 {
			n = 255 // numsame is a u8; a shared prefix beyond this just re-sends extra bytes
		}
		buf.WriteByte(byte(n))
		buf.WriteString(name[n:])
		buf.WriteByte(0)
		prev = name
	}
	return buf.Bytes()
}

// DecodeDirChildren is the inverse of EncodeDirChildren.
func DecodeDirChildren(data []byte) ([]string, error) {
	var names []string
	var prev string
	for len(data) > 0 {
		numsame := int(data[0])
		data = data[1:]
		if numsame > len(prev) {
			return nil, xerrors.Errorf("%w: dirent numsame %d exceeds previous name length %d", ErrBadStructure, numsame, len(prev))
		}
		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, xerrors.Errorf("%w: dirent suffix missing NUL terminator", ErrBadStructure)
		}
		suffix := data[:nul]
		data = data[nul+1:]

		name := prev[:numsame] + string(suffix)
		if len(names) == 0 && numsame != 0 {
			return nil, xerrors.Errorf("%w: first dirent triple has nonzero numsame", ErrBadStructure)
		}
		names = append(names, name)
		prev = name
	}
	return names, nil
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
