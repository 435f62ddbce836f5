// Package header implements the 9-byte MARP frame header: a random
// query id, protocol version, a single flags byte, the recursion
// budget, and the payload length. All multi-byte fields are network
// byte order; this is the thing a peer reads first off every datagram.
package header

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ethgordon/marp/internal/utils"
)

// Size is the wire-exact length of a MARP header.
const Size = 9

// Version is the only header version this implementation speaks.
const Version uint8 = 1

// Op is the 3-bit operation code carried in the flags byte.
type Op uint8

const (
	OpSTD Op = iota // Standard query/response
	OpREV           // Reverse lookup (reserved, replies NTF)
	OpPER           // Peer exchange (reserved, currently a no-op success)
	OpMAL           // Malformed request/response
	OpNTF           // Not found
	OpPNG           // Ping
)

func (op Op) String() string {
	switch op {
	case OpSTD:
		return "STD"
	case OpREV:
		return "REV"
	case OpPER:
		return "PER"
	case OpMAL:
		return "MAL"
	case OpNTF:
		return "NTF"
	case OpPNG:
		return "PNG"
	default:
		return "UNKNOWN"
	}
}

// Header is the fixed 9-byte MARP frame header.
type Header struct {
	// QID is the random query id echoed from request to reply.
	QID uint32
	// version must equal Version; anything else is UnsupportedVersion.
	version uint8
	// flags packs qr/op/aa/rd/z into a single byte.
	flags uint8
	// Recurse is the remaining recursion hop budget.
	Recurse uint8
	// length is the number of payload bytes following the header.
	length uint16
}

const (
	qrMask      uint8 = 0b10000000
	opMask      uint8 = 0b01110000
	opShift           = 4
	aaMask      uint8 = 0b00001000
	rdMask      uint8 = 0b00000100
	zMask       uint8 = 0b00000011
)

// SetRandomQID assigns a random 32-bit query id via crypto/rand, the
// same source the teacher uses for its 16-bit message id.
func (h *Header) SetRandomQID() error {
	var buf [4]byte
	n, err := rand.Read(buf[:])
	if err != nil {
		return fmt.Errorf("header: random qid: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("header: short random read, got %d want %d", n, len(buf))
	}
	h.QID = binary.BigEndian.Uint32(buf[:])
	return nil
}

// Version returns the header's wire version field.
func (h *Header) Version() uint8 { return h.version }

// SetVersion sets the header's wire version field.
func (h *Header) SetVersion(v uint8) { h.version = v }

// IsQuery reports whether qr marks this frame as a client query.
func (h *Header) IsQuery() bool { return h.flags&qrMask != 0 }

// SetQuery sets the qr bit; true means "this is a query".
func (h *Header) SetQuery(isQuery bool) {
	if isQuery {
		h.flags |= qrMask
	} else {
		h.flags &^= qrMask
	}
}

// GetOp extracts the 3-bit operation code.
func (h *Header) GetOp() Op {
	return Op((h.flags & opMask) >> opShift)
}

// SetOp sets the 3-bit operation code.
func (h *Header) SetOp(op Op) {
	h.flags = (h.flags &^ opMask) | ((uint8(op) << opShift) & opMask)
}

// IsAA reports whether the authoritative-answer bit is set.
func (h *Header) IsAA() bool { return h.flags&aaMask != 0 }

// SetAA sets the authoritative-answer bit.
func (h *Header) SetAA(aa bool) {
	if aa {
		h.flags |= aaMask
	} else {
		h.flags &^= aaMask
	}
}

// IsRD reports whether recursion is desired/permitted.
func (h *Header) IsRD() bool { return h.flags&rdMask != 0 }

// SetRD sets the recursion-desired bit.
func (h *Header) SetRD(rd bool) {
	if rd {
		h.flags |= rdMask
	} else {
		h.flags &^= rdMask
	}
}

// Z returns the 2 reserved bits; a non-zero value always means MAL.
func (h *Header) Z() uint8 { return h.flags & zMask }

// SetZ sets the reserved bits. Used only by malformed-frame tests.
func (h *Header) SetZ(z int) error {
	if utils.WouldOverflowUint8(z) || z > int(zMask) {
		return fmt.Errorf("header: z value %d out of range (max %d)", z, zMask)
	}
	h.flags = (h.flags &^ zMask) | (uint8(z) & zMask)
	return nil
}

// Length returns the declared payload length.
func (h *Header) Length() uint16 { return h.length }

// SetLength sets the declared payload length.
func (h *Header) SetLength(n int) error {
	if utils.WouldOverflowUint16(n) {
		return fmt.Errorf("header: length %d would overflow uint16 with max range %d", n, math.MaxUint16)
	}
	h.length = uint16(n)
	return nil
}

// MarshalBinary encodes the header into its wire-exact 9 bytes.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint32(buf[0:4], h.QID)
	buf[4] = h.version
	buf[5] = h.flags
	buf[6] = h.Recurse
	binary.BigEndian.PutUint16(buf[7:9], h.length)
	return buf, nil
}

// Unmarshal parses a 9-byte header off the front of data.
func Unmarshal(data []byte) (*Header, error) {
	if len(data) < Size {
		return nil, fmt.Errorf("header: need at least %d bytes, got %d", Size, len(data))
	}
	h := &Header{}
	h.QID = binary.BigEndian.Uint32(data[0:4])
	h.version = data[4]
	h.flags = data[5]
	h.Recurse = data[6]
	h.length = binary.BigEndian.Uint16(data[7:9])
	return h, nil
}
