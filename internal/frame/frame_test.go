package frame

import (
	"bytes"
	"testing"

	"github.com/ethgordon/marp/internal/header"
)

func TestBuildQuerySetsExpectedFlags(t *testing.T) {
	f, err := BuildQuery(header.OpSTD, false, true, 3, []byte("payload"))
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	if !f.Header.IsQuery() {
		t.Errorf("BuildQuery did not set qr=1")
	}
	if f.Header.Version() != header.Version {
		t.Errorf("BuildQuery version = %d, want %d", f.Header.Version(), header.Version)
	}
	if f.Header.GetOp() != header.OpSTD {
		t.Errorf("BuildQuery op = %s, want STD", f.Header.GetOp())
	}
	if f.Header.IsAA() {
		t.Errorf("BuildQuery set aa=1 unexpectedly")
	}
	if !f.Header.IsRD() {
		t.Errorf("BuildQuery did not set rd=1")
	}
	if f.Header.Recurse != 3 {
		t.Errorf("BuildQuery recurse = %d, want 3", f.Header.Recurse)
	}
}

func TestReplyEchoesQID(t *testing.T) {
	req, err := BuildQuery(header.OpSTD, false, false, 0, nil)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	reply, err := Reply(req, header.OpNTF, false, nil)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply.Header.QID != req.Header.QID {
		t.Errorf("Reply QID = %d, want %d", reply.Header.QID, req.Header.QID)
	}
	if reply.Header.IsQuery() {
		t.Errorf("Reply set qr=1")
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	f, err := BuildQuery(header.OpSTD, true, false, 0, []byte("hello marp"))
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	buf, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Header != f.Header {
		t.Errorf("round trip header mismatch: got %+v, want %+v", got.Header, f.Header)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Errorf("round trip payload mismatch: got %q, want %q", got.Payload, f.Payload)
	}
}

func TestParseRejectsLengthPastBuffer(t *testing.T) {
	f, err := BuildQuery(header.OpSTD, false, false, 0, []byte("abc"))
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	buf, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	truncated := buf[:len(buf)-1]
	if _, err := Parse(truncated); err == nil {
		t.Errorf("Parse accepted a frame whose declared length runs past the buffer")
	}
}

func TestParseRejectsOversizeBuffer(t *testing.T) {
	big := make([]byte, MaxSize+1)
	if _, err := Parse(big); err == nil {
		t.Errorf("Parse accepted a buffer larger than MaxSize")
	}
}
