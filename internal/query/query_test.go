package query

import (
	"crypto/sha256"
	"testing"
)

func testHash() [HashSize]byte {
	return sha256.Sum256([]byte("alice@example.com"))
}

func TestAddProtocolIdempotent(t *testing.T) {
	q := New(testHash())
	if err := q.AddProtocol(1); err != nil {
		t.Fatalf("AddProtocol: %v", err)
	}
	if err := q.AddProtocol(1); err != nil {
		t.Fatalf("AddProtocol (dup): %v", err)
	}
	if got := q.Protocols(); len(got) != 1 {
		t.Errorf("Protocols() = %v, want single entry", got)
	}
}

func TestAddProtocolRejectsZero(t *testing.T) {
	q := New(testHash())
	if err := q.AddProtocol(0); err == nil {
		t.Errorf("AddProtocol(0) should have failed")
	}
}

func TestRemoveThenAddPreservesSize(t *testing.T) {
	q := New(testHash())
	_ = q.AddProtocol(1)
	_ = q.AddProtocol(2)
	original := q.Size()

	if !q.RemoveProtocol(1) {
		t.Fatalf("RemoveProtocol(1) reported not found")
	}
	if err := q.AddProtocol(1); err != nil {
		t.Fatalf("AddProtocol: %v", err)
	}
	if got := q.Size(); got != original {
		t.Errorf("Size() after remove+add = %d, want %d", got, original)
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	q := New(testHash())
	_ = q.AddProtocol(1)
	_ = q.AddProtocol(2)
	q.Host = "example.com"

	buf, err := q.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(buf) != q.Size() {
		t.Errorf("Serialize produced %d bytes, Size() says %d", len(buf), q.Size())
	}

	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Hash != q.Hash {
		t.Errorf("parsed hash mismatch")
	}
	if !equalUint16(got.Protocols(), q.Protocols()) {
		t.Errorf("parsed protocols = %v, want %v", got.Protocols(), q.Protocols())
	}
	if got.Host != q.Host {
		t.Errorf("parsed host = %q, want %q", got.Host, q.Host)
	}
}

func TestParseRejectsMissingTerminator(t *testing.T) {
	hash := testHash()
	buf := append([]byte{}, hash[:]...)
	buf = append(buf, 0x00, 0x01) // non-zero protocol, no terminator follows
	if _, err := Parse(buf); err == nil {
		t.Errorf("Parse accepted a payload with no 0x0000 terminator")
	}
}

func TestParseRejectsShortPayload(t *testing.T) {
	if _, err := Parse(make([]byte, HashSize-1)); err == nil {
		t.Errorf("Parse accepted a payload shorter than the hash")
	}
}

func equalUint16(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
