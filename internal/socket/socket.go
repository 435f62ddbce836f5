// Package socket implements the MARP correlating socket: a UDP socket
// augmented with a qid-to-sender map so that a reply always finds its
// way back to the original caller without the dispatcher ever naming
// an address. Grounded on network/socket.c's Socket_read/Socket_respond
// state machine, expressed with net.UDPConn deadlines instead of
// SO_RCVTIMEO.
package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrDuplicateQID is returned by Recv when a qid arrives a second time
// while its slot is already bound to a real sender.
var ErrDuplicateQID = errors.New("socket: duplicate qid bound to a sender")

// ErrShortDatagram is returned when a datagram is too small to carry
// even the 4-byte qid prefix every MARP frame starts with.
var ErrShortDatagram = errors.New("socket: datagram shorter than 4 bytes")

// ErrNoSender is returned by Reply when the qid has no recorded sender.
var ErrNoSender = errors.New("socket: reply: no sender recorded for qid")

// CorrelatingSocket binds one UDP socket and tracks, per qid, either
// the sender to reply to (a bound slot) or nothing yet (a pending-write
// slot, value nil, inserted by SendTo awaiting the matching reply).
type CorrelatingSocket struct {
	conn *net.UDPConn

	mu      sync.Mutex
	senders map[uint32]*net.UDPAddr
}

// Listen binds a server-side correlating socket to addr (e.g. ":5001").
func Listen(addr string) (*CorrelatingSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("socket: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("socket: listen %s: %w", addr, err)
	}
	return &CorrelatingSocket{conn: conn, senders: make(map[uint32]*net.UDPAddr)}, nil
}

// NewEphemeral opens a client-side correlating socket on an OS-assigned port.
func NewEphemeral() (*CorrelatingSocket, error) {
	return Listen("0.0.0.0:0")
}

// LocalAddr returns the socket's bound local address.
func (s *CorrelatingSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Recv reads one datagram into buf, records the sender for its qid
// (or clears a matching pending-write slot), and returns the number
// of bytes read, the qid, and the sender's address.
func (s *CorrelatingSocket) Recv(buf []byte, timeout time.Duration) (int, uint32, *net.UDPAddr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, 0, nil, fmt.Errorf("socket: set deadline: %w", err)
	}
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, 0, nil, err
	}
	if n < 4 {
		return n, 0, addr, ErrShortDatagram
	}
	qid := binary.BigEndian.Uint32(buf[:4])

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, seen := s.senders[qid]
	switch {
	case !seen:
		s.senders[qid] = addr
	case existing == nil:
		// Pending-write slot: this is the reply to our own SendTo.
		delete(s.senders, qid)
	default:
		return n, qid, addr, ErrDuplicateQID
	}
	return n, qid, addr, nil
}

// Reply looks up the sender recorded for data's qid, sends data to
// it, and removes the slot so a qid is answered at most once.
func (s *CorrelatingSocket) Reply(data []byte) error {
	if len(data) < 4 {
		return ErrShortDatagram
	}
	qid := binary.BigEndian.Uint32(data[:4])

	s.mu.Lock()
	addr, ok := s.senders[qid]
	if ok {
		delete(s.senders, qid)
	}
	s.mu.Unlock()

	if !ok || addr == nil {
		return ErrNoSender
	}
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

// SendTo sends data to ip:port and records a pending-write slot for
// its qid so a later Recv can match the reply.
func (s *CorrelatingSocket) SendTo(ip string, port int, data []byte) error {
	if len(data) < 4 {
		return ErrShortDatagram
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return fmt.Errorf("socket: resolve %s:%d: %w", ip, port, err)
	}
	qid := binary.BigEndian.Uint32(data[:4])

	s.mu.Lock()
	s.senders[qid] = nil
	s.mu.Unlock()

	_, err = s.conn.WriteToUDP(data, addr)
	return err
}

// Clear removes any slot recorded for qid.
func (s *CorrelatingSocket) Clear(qid uint32) {
	s.mu.Lock()
	delete(s.senders, qid)
	s.mu.Unlock()
}

// Close closes the underlying UDP socket.
func (s *CorrelatingSocket) Close() error {
	return s.conn.Close()
}
