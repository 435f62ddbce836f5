package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"log/slog"
	"testing"
	"time"

	"github.com/ethgordon/marp/internal/cache"
	"github.com/ethgordon/marp/internal/frame"
	"github.com/ethgordon/marp/internal/header"
	"github.com/ethgordon/marp/internal/keys"
	"github.com/ethgordon/marp/internal/peerset"
	"github.com/ethgordon/marp/internal/query"
	"github.com/ethgordon/marp/internal/socket"
	"github.com/ethgordon/marp/internal/store"
)

func TestServerAnswersAuthoritativeQuery(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	authStore := store.New(&keys.KeyPair{Private: priv})
	hash := [32]byte{7, 7, 7}
	authStore.Insert(hash, 1, []byte("ciphertext"), 3600)

	respCache, err := cache.New(16, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	srv, err := New("127.0.0.1:0", authStore, respCache, peerset.New(), "", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	go srv.Run()
	t.Cleanup(srv.Shutdown)

	// server.New was given port 0, so read the OS-assigned address back
	// from the server's correlating socket.
	addr := srv.sock.LocalAddr()

	client, err := socket.NewEphemeral()
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	defer client.Close()

	q := query.New(hash)
	if err := q.AddProtocol(1); err != nil {
		t.Fatalf("AddProtocol: %v", err)
	}
	payload, err := q.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	f, err := frame.BuildQuery(header.OpSTD, false, false, 0, payload)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	data, err := f.Serialize()
	if err != nil {
		t.Fatalf("Frame.Serialize: %v", err)
	}

	if err := client.SendTo(addr.IP.String(), addr.Port, data); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	buf := make([]byte, frame.MaxSize)
	n, _, _, err := client.Recv(buf, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	reply, err := frame.Parse(buf[:n])
	if err != nil {
		t.Fatalf("frame.Parse: %v", err)
	}
	if reply.Header.GetOp() != header.OpSTD || !reply.Header.IsAA() {
		t.Fatalf("op = %v aa = %v, want STD aa=true", reply.Header.GetOp(), reply.Header.IsAA())
	}
	if reply.Header.QID != f.Header.QID {
		t.Errorf("reply qid = %d, want %d", reply.Header.QID, f.Header.QID)
	}
}

func TestServerDropsUnsupportedVersionSilently(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	authStore := store.New(&keys.KeyPair{Private: priv})

	respCache, err := cache.New(16, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	srv, err := New("127.0.0.1:0", authStore, respCache, peerset.New(), "", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	go srv.Run()
	t.Cleanup(srv.Shutdown)

	addr := srv.sock.LocalAddr()

	client, err := socket.NewEphemeral()
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	defer client.Close()

	q := query.New([32]byte{1})
	if err := q.AddProtocol(1); err != nil {
		t.Fatalf("AddProtocol: %v", err)
	}
	payload, err := q.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	f, err := frame.BuildQuery(header.OpSTD, false, false, 0, payload)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	f.Header.SetVersion(header.Version + 1)
	data, err := f.Serialize()
	if err != nil {
		t.Fatalf("Frame.Serialize: %v", err)
	}

	if err := client.SendTo(addr.IP.String(), addr.Port, data); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	buf := make([]byte, frame.MaxSize)
	if _, _, _, err := client.Recv(buf, 500*time.Millisecond); err == nil {
		t.Fatalf("Recv: expected timeout, got a reply for an unsupported version")
	}
}
