// Package query implements the MARP standard-query payload: a 32-byte
// hash, a 0x0000-terminated list of protocol ids, and an optional
// trailing host string.
package query

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HashSize is the length of the SHA-256 identifier carried by every query.
const HashSize = 32

// ErrNoTerminator is returned when a query payload's protocol list runs
// off the end of the buffer without a 0x0000 terminator.
var ErrNoTerminator = errors.New("query: protocol list has no 0x0000 terminator")

// ErrZeroProtocol is returned by AddProtocol for the reserved value 0,
// which doubles as the wire terminator and can never be a real id.
var ErrZeroProtocol = errors.New("query: protocol id 0 is reserved as the list terminator")

// Query is a parsed standard-query payload.
type Query struct {
	Hash      [HashSize]byte
	protocols []uint16
	Host      string
}

// New builds an empty query for the given hash, with no protocols and
// no host, ready for AddProtocol calls.
func New(hash [HashSize]byte) *Query {
	return &Query{Hash: hash}
}

// ID returns the query's 32-byte hash.
func (q *Query) ID() [HashSize]byte { return q.Hash }

// Protocols returns the ordered list of requested protocol ids.
func (q *Query) Protocols() []uint16 {
	out := make([]uint16, len(q.protocols))
	copy(out, q.protocols)
	return out
}

// AddProtocol appends protocol to the list if not already present.
// Idempotent, and rejects the reserved terminator value 0.
func (q *Query) AddProtocol(protocol uint16) error {
	if protocol == 0 {
		return ErrZeroProtocol
	}
	for _, p := range q.protocols {
		if p == protocol {
			return nil
		}
	}
	q.protocols = append(q.protocols, protocol)
	return nil
}

// RemoveProtocol removes protocol from the list, compacting in place.
// Reports whether the protocol was present.
func (q *Query) RemoveProtocol(protocol uint16) bool {
	for i, p := range q.protocols {
		if p == protocol {
			q.protocols = append(q.protocols[:i], q.protocols[i+1:]...)
			return true
		}
	}
	return false
}

// Empty reports whether the query has no remaining protocols.
func (q *Query) Empty() bool { return len(q.protocols) == 0 }

// Size returns the exact byte count of Serialize's output.
func (q *Query) Size() int {
	return HashSize + 2*(len(q.protocols)+1) + len(q.Host)
}

// Serialize writes the hash, the 0x0000-terminated protocol list, and
// the optional host string.
func (q *Query) Serialize() ([]byte, error) {
	buf := make([]byte, 0, q.Size())
	buf = append(buf, q.Hash[:]...)

	var proto [2]byte
	for _, p := range q.protocols {
		binary.BigEndian.PutUint16(proto[:], p)
		buf = append(buf, proto[:]...)
	}
	binary.BigEndian.PutUint16(proto[:], 0)
	buf = append(buf, proto[:]...)

	buf = append(buf, []byte(q.Host)...)
	return buf, nil
}

// Parse decodes a query payload: hash, 0x0000-terminated protocol
// list, optional trailing host string.
func Parse(data []byte) (*Query, error) {
	if len(data) < HashSize {
		return nil, fmt.Errorf("query: payload shorter than hash (%d bytes)", len(data))
	}
	q := &Query{}
	copy(q.Hash[:], data[:HashSize])
	rest := data[HashSize:]

	i := 0
	for {
		if i+2 > len(rest) {
			return nil, ErrNoTerminator
		}
		p := binary.BigEndian.Uint16(rest[i : i+2])
		i += 2
		if p == 0 {
			break
		}
		q.protocols = append(q.protocols, p)
	}

	q.Host = string(rest[i:])
	return q, nil
}
