package ftbblock

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBlockRoundTrip(t *testing.T) {
	p := Params{L2BS: 12, XorGC: 2, XorSC: 31} // 4 KiB blocks
	b := NewDataBlock(p)
	b.Seqno = 7
	b.HdrOff = uint32(HeaderSize + 123)
	copy(b.Body[123:], MagicHeader)
	for i := range b.Nonce {
		b.Nonce[i] = byte(i)
	}

	dst := make([]byte, p.BlockSize())
	if err := b.Encode(dst, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(dst, 0, &p)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	p := Params{L2BS: 12, XorGC: 1, XorSC: 1}
	dst := make([]byte, p.BlockSize())
	copy(dst, "notmagic")
	if _, err := Decode(dst, 0, nil); err != ErrBadMagic {
		t.Fatalf("Decode with bad magic: got %v, want ErrBadMagic", err)
	}
}

func TestDecodeParamMismatch(t *testing.T) {
	p := Params{L2BS: 12, XorGC: 2, XorSC: 31}
	baseline := Params{L2BS: 12, XorGC: 4, XorSC: 31}
	b := NewDataBlock(p)
	b.Seqno = 1
	dst := make([]byte, p.BlockSize())
	if err := b.Encode(dst, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(dst, 0, &baseline); err != ErrParamMismatch {
		t.Fatalf("Decode with mismatched baseline: got %v, want ErrParamMismatch", err)
	}
}

func TestDecodeHdrOffOutOfBody(t *testing.T) {
	p := Params{L2BS: 12, XorGC: 1, XorSC: 1}
	b := NewDataBlock(p)
	b.Seqno = 1
	b.HdrOff = uint32(HeaderSize + len(b.Body)) // points past end
	dst := make([]byte, p.BlockSize())
	if err := b.Encode(dst, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(dst, 0, nil); err == nil {
		t.Fatal("Decode with out-of-body hdroffs: want error, got nil")
	}
}

func TestGroupAndSpan(t *testing.T) {
	p := Params{L2BS: 12, XorGC: 2, XorSC: 31}
	tests := []struct {
		seqno     uint32
		wantGroup int
		wantSpan  uint64
	}{
		{1, 0, 0},
		{2, 1, 0},
		{3, 0, 0},
		{63, 0, 1}, // span boundary: 62 data blocks per span
		{64, 1, 1},
	}
	for _, tt := range tests {
		if got := p.Group(tt.seqno); got != tt.wantGroup {
			t.Errorf("Group(%d) = %d, want %d", tt.seqno, got, tt.wantGroup)
		}
		if got := p.SpanIndex(tt.seqno); got != tt.wantSpan {
			t.Errorf("SpanIndex(%d) = %d, want %d", tt.seqno, got, tt.wantSpan)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		MtimeNS: 111,
		CtimeNS: 222,
		AtimeNS: 333,
		Size:    6,
		FileNo:  4,
		StMode:  0100644,
		OwnUID:  1000,
		OwnGID:  1000,
		Name:    "t/a",
		XAttrs: []XAttr{
			{Name: "user.foo", Value: []byte("bar")},
			{Name: "user.empty", Value: nil},
		},
	}
	enc, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, n, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if n != len(enc) {
		t.Errorf("DecodeHeader consumed %d bytes, want %d", n, len(enc))
	}
	got.Flags = h.Flags // HFlXattrs is set by Encode as a side effect; compare logical fields only
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("header round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEndHeader(t *testing.T) {
	h := EndHeader()
	if !h.IsEnd() {
		t.Fatal("EndHeader().IsEnd() = false, want true")
	}
	enc, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, _, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if !got.IsEnd() {
		t.Fatal("decoded end header IsEnd() = false, want true")
	}
}

func TestDirChildrenRoundTrip(t *testing.T) {
	names := []string{"a", "abc", "abd", "b", "bcd"}
	enc := EncodeDirChildren(names)
	got, err := DecodeDirChildren(enc)
	if err != nil {
		t.Fatalf("DecodeDirChildren: %v", err)
	}
	if diff := cmp.Diff(names, got); diff != "" {
		t.Errorf("dir children round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDirChildrenEmpty(t *testing.T) {
	got, err := DecodeDirChildren(EncodeDirChildren(nil))
	if err != nil {
		t.Fatalf("DecodeDirChildren: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("DecodeDirChildren(empty) = %v, want empty", got)
	}
}
