// Package peerset tracks known MARP peers in a sparse, tombstoned
// array with a parallel presence bitmap, so that a Peer's Index stays
// stable across Drop calls. Grounded on network/peers.c's struct
// peerAO; the presence bitmap is backed by bits-and-blooms/bitset
// instead of a hand-rolled []bool.
package peerset

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Peer is a single known MARP peer endpoint.
type Peer struct {
	Index int
	IP    string
	Port  int
	Addr  *net.UDPAddr
}

// ErrNoPeers is returned by Random when the set is empty.
var ErrNoPeers = errors.New("peerset: no peers known")

// PeerSet is a concurrency-safe, growable set of peers.
type PeerSet struct {
	mu      sync.RWMutex
	peers   []*Peer
	present *bitset.BitSet
}

// New returns an empty peer set.
func New() *PeerSet {
	return &PeerSet{present: bitset.New(0)}
}

// Add inserts (ip, port), reusing the first tombstoned slot if any,
// otherwise growing the backing slice (which append already does
// geometrically, matching the doubling-growth requirement).
func (s *PeerSet) Add(ip string, port int) (*Peer, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("peerset: add %s:%d: %w", ip, port, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.peers {
		if p == nil {
			peer := &Peer{Index: i, IP: ip, Port: port, Addr: addr}
			s.peers[i] = peer
			s.present.Set(uint(i))
			return peer, nil
		}
	}

	idx := len(s.peers)
	peer := &Peer{Index: idx, IP: ip, Port: port, Addr: addr}
	s.peers = append(s.peers, peer)
	s.present.Set(uint(idx))
	return peer, nil
}

// Drop removes peer, leaving a tombstone at its index.
func (s *PeerSet) Drop(peer *Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if peer.Index < 0 || peer.Index >= len(s.peers) || s.peers[peer.Index] != peer {
		return errors.New("peerset: drop: not a current member of this set")
	}
	s.peers[peer.Index] = nil
	s.present.Clear(uint(peer.Index))
	return nil
}

// Random samples a present peer by rejection sampling. Not perfectly
// uniform under heavy tombstoning, only required to terminate in
// expected O(1/density) trials.
func (s *PeerSet) Random() (*Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := uint(len(s.peers))
	if n == 0 || s.present.Count() == 0 {
		return nil, ErrNoPeers
	}
	for {
		i := uint(rand.Intn(int(n)))
		if s.present.Test(i) {
			return s.peers[i], nil
		}
	}
}

// Len returns the number of live (non-tombstoned) peers.
func (s *PeerSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.present.Count())
}

// Dump writes every live peer as a newline-delimited "<ip>:<port>" line.
func (s *PeerSet) Dump(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("peerset: dump: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i, p := range s.peers {
		if p == nil || !s.present.Test(uint(i)) {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s:%d\n", p.IP, p.Port); err != nil {
			return fmt.Errorf("peerset: dump: %w", err)
		}
	}
	return w.Flush()
}

// Load reads newline-delimited "<ip>:<port>" lines, adding each as a
// peer. Returns the number of peers successfully added. A missing
// file is not an error: a fresh server simply starts with no peers.
func Load(path string) (*PeerSet, int, error) {
	s := New()
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("peerset: load: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(line)
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		if _, err := s.Add(host, port); err == nil {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("peerset: load: %w", err)
	}
	return s, count, nil
}
