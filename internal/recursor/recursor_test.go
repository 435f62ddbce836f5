package recursor

import (
	"net"
	"testing"
	"time"

	"github.com/ethgordon/marp/internal/peerset"
)

func echoServer(t *testing.T, reply []byte) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	go func() {
		buf := make([]byte, 512)
		_, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if reply != nil {
			_, _ = conn.WriteToUDP(reply, addr)
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return conn.LocalAddr().(*net.UDPAddr)
}

func TestPollReturnsReply(t *testing.T) {
	addr := echoServer(t, []byte("pong"))
	peers := peerset.New()
	if _, err := peers.Add(addr.IP.String(), addr.Port); err != nil {
		t.Fatalf("peers.Add: %v", err)
	}

	r, err := New([]byte("ping"), peers, 1, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Free()

	data, ok := r.Poll()
	if !ok {
		t.Fatalf("Poll() returned ok=false, want a reply")
	}
	if string(data) != "pong" {
		t.Errorf("Poll() = %q, want %q", data, "pong")
	}
}

func TestPollTimesOutWithNoReplies(t *testing.T) {
	addr := echoServer(t, nil) // never replies
	peers := peerset.New()
	if _, err := peers.Add(addr.IP.String(), addr.Port); err != nil {
		t.Fatalf("peers.Add: %v", err)
	}

	r, err := New([]byte("ping"), peers, 1, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Free()

	if _, ok := r.Poll(); ok {
		t.Errorf("Poll() should have timed out with no reply")
	}
}

func TestForceTimeoutShortCircuits(t *testing.T) {
	addr := echoServer(t, nil)
	peers := peerset.New()
	if _, err := peers.Add(addr.IP.String(), addr.Port); err != nil {
		t.Fatalf("peers.Add: %v", err)
	}

	r, err := New([]byte("ping"), peers, 1, 10*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Free()

	r.ForceTimeout()
	start := time.Now()
	if _, ok := r.Poll(); ok {
		t.Errorf("Poll() should report no reply after ForceTimeout")
	}
	if time.Since(start) > time.Second {
		t.Errorf("ForceTimeout did not short-circuit Poll, took %v", time.Since(start))
	}
}
