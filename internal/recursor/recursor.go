// Package recursor fans a datagram out to several peers and collects
// replies as they arrive, in arrival order, bounded by an overall
// timeout. Grounded on network/recursor.c's Recursor_init/poll, which
// relies on the kernel mutating select()'s timeval in place across
// calls; this port instead tracks a fixed deadline and recomputes the
// remaining wait on every Poll, per spec.md's design note that a Go
// implementation must do that subtraction manually.
package recursor

import (
	"net"
	"sync"
	"time"

	"github.com/ethgordon/marp/internal/peerset"
)

type reading struct {
	data []byte
	err  error
}

// Recursor fans a single datagram out to up to maxPeers peers and
// reads back at most one reply per peer.
type Recursor struct {
	conns []*net.UDPConn

	mu       sync.Mutex
	deadline time.Time
	pending  int

	results chan reading
}

// New opens one ephemeral UDP socket per sampled peer (up to
// maxPeers, deduplicated), sends datagram to each, and arms a
// per-socket reader goroutine.
func New(datagram []byte, peers *peerset.PeerSet, maxPeers int, timeout time.Duration) (*Recursor, error) {
	seen := make(map[string]bool)
	var targets []*net.UDPAddr

	for attempts := 0; len(targets) < maxPeers && attempts < maxPeers*8; attempts++ {
		peer, err := peers.Random()
		if err != nil {
			break // fewer peers known than maxPeers; proceed with what we have
		}
		key := peer.Addr.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, peer.Addr)
	}

	r := &Recursor{
		deadline: time.Now().Add(timeout),
		results:  make(chan reading, len(targets)),
	}

	for _, addr := range targets {
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			continue
		}
		if _, err := conn.Write(datagram); err != nil {
			conn.Close()
			continue
		}
		r.conns = append(r.conns, conn)
		r.pending++
		go r.readOne(conn, timeout)
	}

	return r, nil
}

func (r *Recursor) readOne(conn *net.UDPConn, timeout time.Duration) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	conn.Close()
	if err != nil {
		r.results <- reading{err: err}
		return
	}
	r.results <- reading{data: buf[:n]}
}

// Poll blocks until a reply arrives, the overall timeout elapses, or
// every socket has been drained, skipping over peer read errors
// (an unreplying peer is absorbed, not surfaced) until one of those
// three things happens.
func (r *Recursor) Poll() ([]byte, bool) {
	for {
		r.mu.Lock()
		remaining := time.Until(r.deadline)
		stillPending := r.pending
		r.mu.Unlock()

		if stillPending <= 0 || remaining <= 0 {
			return nil, false
		}

		select {
		case res, ok := <-r.results:
			if !ok {
				return nil, false
			}
			r.mu.Lock()
			r.pending--
			r.mu.Unlock()
			if res.err != nil {
				continue
			}
			return res.data, true
		case <-time.After(remaining):
			return nil, false
		}
	}
}

// ForceTimeout makes every subsequent Poll return immediately,
// without closing sockets that may still have replies in flight.
func (r *Recursor) ForceTimeout() {
	r.mu.Lock()
	r.deadline = time.Now().Add(-time.Second)
	r.mu.Unlock()
}

// Free closes any sockets still open. Safe to call after Poll has
// drained everything.
func (r *Recursor) Free() {
	for _, c := range r.conns {
		c.Close()
	}
}
