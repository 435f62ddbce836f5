package header

import "testing"

func TestRandomQID(t *testing.T) {
	var h Header
	if err := h.SetRandomQID(); err != nil {
		t.Fatalf("SetRandomQID: %v", err)
	}
	var h2 Header
	if err := h2.SetRandomQID(); err != nil {
		t.Fatalf("SetRandomQID: %v", err)
	}
	if h.QID == 0 {
		t.Errorf("QID left as zero")
	}
	if h.QID == h2.QID {
		t.Errorf("two random QIDs collided: %d", h.QID)
	}
}

func TestQueryFlag(t *testing.T) {
	var h Header
	h.SetQuery(true)
	if !h.IsQuery() {
		t.Errorf("IsQuery() = false, want true")
	}
	h.SetQuery(false)
	if h.IsQuery() {
		t.Errorf("IsQuery() = true, want false")
	}
}

func TestOp(t *testing.T) {
	var h Header
	for _, op := range []Op{OpSTD, OpREV, OpPER, OpMAL, OpNTF, OpPNG} {
		h.SetOp(op)
		if got := h.GetOp(); got != op {
			t.Errorf("GetOp() after SetOp(%s) = %s", op, got)
		}
	}
}

func TestAAFlag(t *testing.T) {
	var h Header
	h.SetAA(true)
	if !h.IsAA() {
		t.Errorf("IsAA() = false, want true")
	}
	h.SetAA(false)
	if h.IsAA() {
		t.Errorf("IsAA() = true, want false")
	}
}

func TestRDFlag(t *testing.T) {
	var h Header
	h.SetRD(true)
	if !h.IsRD() {
		t.Errorf("IsRD() = false, want true")
	}
	h.SetRD(false)
	if h.IsRD() {
		t.Errorf("IsRD() = true, want false")
	}
}

func TestZField(t *testing.T) {
	var h Header
	if err := h.SetZ(3); err != nil {
		t.Fatalf("SetZ(3): %v", err)
	}
	if got := h.Z(); got != 3 {
		t.Errorf("Z() = %d, want 3", got)
	}
	if err := h.SetZ(4); err == nil {
		t.Errorf("SetZ(4) should have overflowed the 2-bit field")
	}
}

func TestFlagsDoNotInterfere(t *testing.T) {
	var h Header
	h.SetQuery(true)
	h.SetOp(OpSTD)
	h.SetAA(true)
	h.SetRD(true)
	if err := h.SetZ(0); err != nil {
		t.Fatalf("SetZ(0): %v", err)
	}

	if !h.IsQuery() || h.GetOp() != OpSTD || !h.IsAA() || !h.IsRD() || h.Z() != 0 {
		t.Fatalf("flags interfered with each other: %08b", h.flags)
	}

	h.SetAA(false)
	if !h.IsQuery() || h.GetOp() != OpSTD || h.IsAA() || !h.IsRD() {
		t.Fatalf("clearing AA disturbed other flags: %08b", h.flags)
	}
}

func TestLength(t *testing.T) {
	var h Header
	if err := h.SetLength(512); err != nil {
		t.Fatalf("SetLength(512): %v", err)
	}
	if got := h.Length(); got != 512 {
		t.Errorf("Length() = %d, want 512", got)
	}
	if err := h.SetLength(-1); err == nil {
		t.Errorf("SetLength(-1) should have failed")
	}
	if err := h.SetLength(70000); err == nil {
		t.Errorf("SetLength(70000) should have overflowed uint16")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	var h Header
	if err := h.SetRandomQID(); err != nil {
		t.Fatalf("SetRandomQID: %v", err)
	}
	h.SetVersion(Version)
	h.SetQuery(true)
	h.SetOp(OpSTD)
	h.SetAA(false)
	h.SetRD(true)
	h.Recurse = 3
	if err := h.SetLength(42); err != nil {
		t.Fatalf("SetLength: %v", err)
	}

	buf, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) != Size {
		t.Fatalf("MarshalBinary produced %d bytes, want %d", len(buf), Size)
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if *got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", *got, h)
	}
}

func TestUnmarshalShortBuffer(t *testing.T) {
	if _, err := Unmarshal(make([]byte, Size-1)); err == nil {
		t.Errorf("Unmarshal should reject a short buffer")
	}
}
