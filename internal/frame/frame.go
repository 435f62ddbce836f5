// Package frame glues a header.Header to a payload and enforces the
// single size invariant that matters at this layer: a frame never
// exceeds 512 bytes on the wire.
package frame

import (
	"errors"
	"fmt"

	"github.com/ethgordon/marp/internal/header"
)

// MaxSize is the largest a serialized frame (header + payload) may be.
const MaxSize = 512

// ErrMalformedFrame is returned for any structurally invalid frame:
// a declared length past the end of the buffer, or a buffer shorter
// than the header.
var ErrMalformedFrame = errors.New("frame: malformed")

// Frame is a parsed MARP datagram.
type Frame struct {
	Header  header.Header
	Payload []byte
}

// BuildQuery constructs a new client-originated frame: random qid,
// version 1, qr=1, the given op and aa/rd/recurse settings.
func BuildQuery(op header.Op, authoritative, recursionDesired bool, recurse uint8, payload []byte) (*Frame, error) {
	f := &Frame{Payload: payload}
	if err := f.Header.SetRandomQID(); err != nil {
		return nil, fmt.Errorf("frame: build query: %w", err)
	}
	f.Header.SetVersion(header.Version)
	f.Header.SetQuery(true)
	f.Header.SetOp(op)
	f.Header.SetAA(authoritative)
	f.Header.SetRD(recursionDesired)
	f.Header.Recurse = recurse
	if err := f.Header.SetLength(len(payload)); err != nil {
		return nil, fmt.Errorf("frame: build query: %w", err)
	}
	if header.Size+len(payload) > MaxSize {
		return nil, fmt.Errorf("%w: query payload too large (%d bytes)", ErrMalformedFrame, len(payload))
	}
	return f, nil
}

// Reply builds a server-originated frame that echoes the request's
// qid, used for every dispatcher response (STD, NTF, MAL alike).
func Reply(req *Frame, op header.Op, aa bool, payload []byte) (*Frame, error) {
	f := &Frame{Payload: payload}
	f.Header.QID = req.Header.QID
	f.Header.SetVersion(header.Version)
	f.Header.SetQuery(false)
	f.Header.SetOp(op)
	f.Header.SetAA(aa)
	if err := f.Header.SetLength(len(payload)); err != nil {
		return nil, fmt.Errorf("frame: reply: %w", err)
	}
	if header.Size+len(payload) > MaxSize {
		return nil, fmt.Errorf("%w: reply payload too large (%d bytes)", ErrMalformedFrame, len(payload))
	}
	return f, nil
}

// Parse reads a header off the front of data and validates that the
// declared payload length does not run past the end of the buffer.
func Parse(data []byte) (*Frame, error) {
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds max frame size %d", ErrMalformedFrame, len(data), MaxSize)
	}
	h, err := header.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	rest := data[header.Size:]
	if int(h.Length()) > len(rest) {
		return nil, fmt.Errorf("%w: declared length %d exceeds remaining %d bytes", ErrMalformedFrame, h.Length(), len(rest))
	}
	payload := make([]byte, h.Length())
	copy(payload, rest[:h.Length()])
	return &Frame{Header: *h, Payload: payload}, nil
}

// Serialize writes the header followed by the payload.
func (f *Frame) Serialize() ([]byte, error) {
	if err := f.Header.SetLength(len(f.Payload)); err != nil {
		return nil, fmt.Errorf("frame: serialize: %w", err)
	}
	hdr, err := f.Header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("frame: serialize: %w", err)
	}
	buf := make([]byte, 0, len(hdr)+len(f.Payload))
	buf = append(buf, hdr...)
	buf = append(buf, f.Payload...)
	if len(buf) > MaxSize {
		return nil, fmt.Errorf("%w: serialized frame is %d bytes", ErrMalformedFrame, len(buf))
	}
	return buf, nil
}
