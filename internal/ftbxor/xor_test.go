package ftbxor

import (
	"bytes"
	"testing"
)

func TestSingleBlockRecovery(t *testing.T) {
	const bodyLen = 16
	xorgc, xorsc := 1, 3
	bodies := [][]byte{
		bytes.Repeat([]byte{0x01}, bodyLen),
		bytes.Repeat([]byte{0x02}, bodyLen),
		bytes.Repeat([]byte{0x03}, bodyLen),
	}

	e := NewEngine(xorgc, xorsc, bodyLen)
	// seqnos 1,2,3 all in group 0 (xorgc=1), span 0. Block 2 is "lost".
	e.Observe(0, 0, 1, bodies[0])
	e.Observe(0, 0, 3, bodies[2])

	parity := make([]byte, bodyLen)
	for _, b := range bodies {
		XorInto(parity, b)
	}

	rec, err := e.CloseGroup(0, 0, 3, []uint32{1, 2, 3}, parity)
	if err != nil {
		t.Fatalf("CloseGroup: %v", err)
	}
	if !rec.Recovered {
		t.Fatal("expected recovery")
	}
	if rec.MissingSeqno != 2 {
		t.Fatalf("MissingSeqno = %d, want 2", rec.MissingSeqno)
	}
	if !bytes.Equal(rec.Body, bodies[1]) {
		t.Fatalf("recovered body mismatch")
	}
}

func TestDualLossUnrecoverable(t *testing.T) {
	const bodyLen = 8
	e := NewEngine(1, 4, bodyLen)
	e.Observe(0, 0, 1, bytes.Repeat([]byte{0xAA}, bodyLen))
	e.Observe(0, 0, 2, bytes.Repeat([]byte{0xBB}, bodyLen))
	// seqnos 3 and 4 never observed: dual loss.
	parity := make([]byte, bodyLen)
	if _, err := e.CloseGroup(0, 0, 4, []uint32{1, 2, 3, 4}, parity); err != ErrUnrecoverable {
		t.Fatalf("CloseGroup with dual loss: got %v, want ErrUnrecoverable", err)
	}
}

func TestNoLossVerifiesZero(t *testing.T) {
	const bodyLen = 8
	e := NewEngine(1, 2, bodyLen)
	a := bytes.Repeat([]byte{0x0F}, bodyLen)
	b := bytes.Repeat([]byte{0xF0}, bodyLen)
	e.Observe(0, 0, 1, a)
	e.Observe(0, 0, 2, b)
	parity := make([]byte, bodyLen)
	XorInto(parity, a)
	XorInto(parity, b)

	rec, err := e.CloseGroup(0, 0, 2, []uint32{1, 2}, parity)
	if err != nil {
		t.Fatalf("CloseGroup: %v", err)
	}
	if rec.Recovered {
		t.Fatal("expected no recovery needed")
	}
	if rec.ZeroCheckFailed {
		t.Fatal("expected zero check to pass")
	}
}

func TestSpanRolloverResetsAccumulators(t *testing.T) {
	const bodyLen = 4
	e := NewEngine(1, 1, bodyLen)
	e.Observe(0, 0, 1, []byte{1, 2, 3, 4})
	e.Observe(1, 0, 2, []byte{5, 6, 7, 8}) // next span: must zero the group first
	if e.groups[0].count != 1 {
		t.Fatalf("group count after rollover = %d, want 1", e.groups[0].count)
	}
	if _, ok := e.groups[0].members[1]; ok {
		t.Fatal("stale member from previous span not cleared")
	}
}

func TestInterleavedGroups(t *testing.T) {
	const bodyLen = 4
	xorgc := 2
	e := NewEngine(xorgc, 2, bodyLen)
	// span 0: seqno 1 -> group 0, seqno 2 -> group 1, seqno 3 -> group 0, seqno 4 -> group 1
	e.Observe(0, 0, 1, []byte{1, 1, 1, 1})
	e.Observe(0, 1, 2, []byte{2, 2, 2, 2})
	e.Observe(0, 0, 3, []byte{3, 3, 3, 3})
	// seqno 4 (group 1) lost.
	p1 := make([]byte, bodyLen)
	XorInto(p1, []byte{1, 1, 1, 1})
	XorInto(p1, []byte{3, 3, 3, 3})
	rec0, err := e.CloseGroup(0, 0, 2, []uint32{1, 3}, p1)
	if err != nil {
		t.Fatalf("CloseGroup group0: %v", err)
	}
	if rec0.Recovered {
		t.Fatal("group 0 had no loss, should not recover")
	}

	want4 := []byte{9, 9, 9, 9}
	p2 := make([]byte, bodyLen)
	XorInto(p2, []byte{2, 2, 2, 2})
	XorInto(p2, want4)
	rec1, err := e.CloseGroup(0, 1, 2, []uint32{2, 4}, p2)
	if err != nil {
		t.Fatalf("CloseGroup group1: %v", err)
	}
	if !rec1.Recovered || rec1.MissingSeqno != 4 {
		t.Fatalf("group 1 recovery = %+v, want seqno 4 recovered", rec1)
	}
	if !bytes.Equal(rec1.Body, want4) {
		t.Fatalf("recovered body = %v, want %v", rec1.Body, want4)
	}
}
