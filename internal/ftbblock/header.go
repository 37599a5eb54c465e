package ftbblock

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Flags bits on Header.Flags.
const (
	HFlHardlink = 1 << 0 // payload is a u32 fileno reference
	HFlXattrs   = 1 << 1 // name blob is followed by packed xattrs
)

// HeaderFixedSize is the size of the fixed portion of a Header record,
// after the magic and before the variable-length name(+xattrs) blob:
// mtime+ctime+atime+size (4 x u64) + fileno+stmode+uid+gid (4 x u32) +
// nameln (u16) + flags (u8).
const HeaderFixedSize = 8 + 8 + 8 + 8 + 4 + 4 + 4 + 4 + 2 + 1

// HeaderNameLenOffset is nameln's byte offset within the fixed portion of
// an encoded Header (after mtime/ctime/atime/size/fileno/stmode/uid/gid),
// exported so internal/ftbreader can learn how many more bytes to read
// before it has the whole header+name blob, without duplicating this
// layout's field order.
const HeaderNameLenOffset = HeaderFixedSize - 3

// Header is a single archived-file record as emitted compressed into the
// data stream (spec.md §3 "Header").
type Header struct {
	MtimeNS uint64
	CtimeNS uint64
	AtimeNS uint64
	Size    uint64 // payload byte count that follows; meaning depends on StMode
	FileNo  uint32
	StMode  uint32
	OwnUID  uint32
	OwnGID  uint32
	Flags   uint8
	Name    string
	XAttrs  []XAttr // only meaningful if Flags&HFlXattrs != 0
}

// XAttr is one extended attribute name/value pair.
type XAttr struct {
	Name  string
	Value []byte
}

// IsEnd reports whether this header is the end-of-saveset sentinel built by
// EndHeader: an empty name with FileNo 0. The root directory's header also
// has an empty name, but archived files are numbered from 1. Encode writes
// the sentinel with just the NUL terminator (nameln 1); DecodeHeader
// rejects a record whose nameln is 0.
func (h *Header) IsEnd() bool { return len(h.Name) == 0 && h.FileNo == 0 }

// EndHeader constructs the end-of-saveset sentinel header.
func EndHeader() *Header { return &Header{} }

// Encode serializes the header into its compressed-stream wire form:
// magic, fixed fields, nameln, then the name blob (NUL-terminated path,
// optionally followed by packed xattrs).
func (h *Header) Encode() ([]byte, error) {
	var nameBlob bytes.Buffer
	nameBlob.WriteString(h.Name)
	nameBlob.WriteByte(0)

	flags := h.Flags
	if len(h.XAttrs) > 0 {
		flags |= HFlXattrs
		encodeXAttrs(&nameBlob, h.XAttrs)
	}

	if nameBlob.Len() > 0xFFFF {
		return nil, xerrors.Errorf("ftbblock: header name+xattrs blob too large: %d bytes", nameBlob.Len())
	}

	var buf bytes.Buffer
	buf.WriteString(MagicHeader)
	var scratch [8]byte
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:8], v)
		buf.Write(scratch[:8])
	}
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		buf.Write(scratch[:4])
	}
	putU64(h.MtimeNS)
	putU64(h.CtimeNS)
	putU64(h.AtimeNS)
	putU64(h.Size)
	putU32(h.FileNo)
	putU32(h.StMode)
	putU32(h.OwnUID)
	putU32(h.OwnGID)
	binary.LittleEndian.PutUint16(scratch[:2], uint16(nameBlob.Len()))
	buf.Write(scratch[:2])
	buf.WriteByte(flags)
	buf.Write(nameBlob.Bytes())

	return buf.Bytes(), nil
}

// DecodeHeader parses a Header starting at the beginning of src (which must
// begin with the header magic). It returns the header and the number of
// bytes consumed from src.
func DecodeHeader(src []byte) (*Header, int, error) {
	if len(src) < len(MagicHeader)+HeaderFixedSize {
		return nil, 0, ErrTruncated
	}
	if string(src[0:len(MagicHeader)]) != MagicHeader {
		return nil, 0, ErrBadMagic
	}
	off := len(MagicHeader)
	h := &Header{}
	getU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(src[off : off+8])
		off += 8
		return v
	}
	getU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(src[off : off+4])
		off += 4
		return v
	}
	h.MtimeNS = getU64()
	h.CtimeNS = getU64()
	h.AtimeNS = getU64()
	h.Size = getU64()
	h.FileNo = getU32()
	h.StMode = getU32()
	h.OwnUID = getU32()
	h.OwnGID = getU32()
	nameln := int(binary.LittleEndian.Uint16(src[off : off+2]))
	off += 2
	h.Flags = src[off]
	off++

	if off+nameln > len(src) {
		return nil, 0, ErrTruncated
	}
	blob := src[off : off+nameln]
	off += nameln

	nul := bytes.IndexByte(blob, 0)
	if nul < 0 {
		return nil, 0, xerrors.Errorf("%w: header name blob missing NUL terminator", ErrBadStructure)
	}
	h.Name = string(blob[:nul])

	if h.Flags&HFlXattrs != 0 {
		xattrs, err := decodeXAttrs(blob[nul+1:])
		if err != nil {
			return nil, 0, err
		}
		h.XAttrs = xattrs
	}

	return h, off, nil
}

// putUvarint appends an ftbackup-style little-endian 7-bit-group varint
// (high bit = continuation) to buf.
func putUvarint(buf *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	buf.WriteByte(byte(v))
}

// getUvarint reads an ftbackup-style varint from the front of src, returning
// the value and the number of bytes consumed.
func getUvarint(src []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, b := range src {
		if shift >= 64 {
			return 0, 0, xerrors.Errorf("%w: varint overflow", ErrBadStructure)
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, xerrors.Errorf("%w: truncated varint", ErrTruncated)
}

// encodeXAttrs appends: varint list-length, nul-separated name list, then
// for each name a varint value-length followed by the value bytes.
func encodeXAttrs(buf *bytes.Buffer, xattrs []XAttr) {
	putUvarint(buf, uint64(len(xattrs)))
	for _, x := range xattrs {
		buf.WriteString(x.Name)
		buf.WriteByte(0)
	}
	for _, x := range xattrs {
		putUvarint(buf, uint64(len(x.Value)))
		buf.Write(x.Value)
	}
}

// decodeXAttrs is the inverse of encodeXAttrs.
func decodeXAttrs(src []byte) ([]XAttr, error) {
	n, consumed, err := getUvarint(src)
	if err != nil {
		return nil, err
	}
	src = src[consumed:]

	names := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		nul := bytes.IndexByte(src, 0)
		if nul < 0 {
			return nil, xerrors.Errorf("%w: xattr name missing NUL terminator", ErrBadStructure)
		}
		names = append(names, string(src[:nul]))
		src = src[nul+1:]
	}

	xattrs := make([]XAttr, 0, n)
	for _, name := range names {
		vlen, consumed, err := getUvarint(src)
		if err != nil {
			return nil, err
		}
		src = src[consumed:]
		if uint64(len(src)) < vlen {
			return nil, ErrTruncated
		}
		xattrs = append(xattrs, XAttr{Name: name, Value: append([]byte(nil), src[:vlen]...)})
		src = src[vlen:]
	}

	return xattrs, nil
}
