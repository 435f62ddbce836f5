// Package server runs the MARP acceptor loop: one goroutine reads
// datagrams off a correlating socket and hands each to a bounded
// worker ring, replacing the teacher's per-request
// goroutine-plus-WaitGroup shape in app/DNS.go with backpressure from
// github.com/JekaMas/workerpool, per spec.md §5's MAX_THREAD=10 ring.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/JekaMas/workerpool"

	"github.com/ethgordon/marp/internal/cache"
	"github.com/ethgordon/marp/internal/dispatch"
	"github.com/ethgordon/marp/internal/frame"
	"github.com/ethgordon/marp/internal/peerset"
	"github.com/ethgordon/marp/internal/socket"
	"github.com/ethgordon/marp/internal/store"
)

// MaxThreads is the fixed size of the worker ring, per spec §5.
const MaxThreads = 10

// acceptTimeout bounds how long the acceptor blocks in recv before
// re-checking the shutdown flag, per spec §5's "1-second timeout".
const acceptTimeout = 1 * time.Second

// recurseBudget is the remaining time budget handed to a dispatch's
// recursor when the request carries recursion.
const recurseBudget = 2 * time.Second

// Server owns the listening socket, the bounded worker ring, and the
// dispatch context shared read-mostly across every worker.
type Server struct {
	sock      *socket.CorrelatingSocket
	pool      *workerpool.WorkerPool
	dispatch  *dispatch.Context
	cachePath string
	logger    *slog.Logger
	running   atomic.Bool
}

// New binds addr and wires a dispatch.Context from the given store,
// cache, and peer set.
func New(addr string, authStore *store.Authoritative, respCache *cache.ResponseCache, peers *peerset.PeerSet, cachePath string, logger *slog.Logger) (*Server, error) {
	sock, err := socket.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s := &Server{
		sock: sock,
		pool: workerpool.New(MaxThreads),
		dispatch: &dispatch.Context{
			Store:  authStore,
			Cache:  respCache,
			Peers:  peers,
			Logger: logger,
		},
		cachePath: cachePath,
		logger:    logger,
	}
	s.running.Store(true)
	return s, nil
}

// Run installs a SIGINT handler and blocks in the accept loop until
// shutdown is requested, then drains the worker ring and dumps the
// cache before returning.
func (s *Server) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		s.logger.Info("server: shutdown signal received")
		s.running.Store(false)
	}()

	s.logger.Info("server: listening", slog.String("addr", s.sock.LocalAddr().String()))

	buf := make([]byte, frame.MaxSize)
	slots := make(chan struct{}, MaxThreads)
	for s.running.Load() {
		n, qid, addr, err := s.sock.Recv(buf, acceptTimeout)
		if err != nil {
			// Timeout is expected every second so the shutdown flag gets
			// rechecked; anything else is logged and the loop continues.
			if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				s.logger.Debug("server: recv failed", slog.Any("error", err))
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		// Block the acceptor while MaxThreads requests are in flight.
		slots <- struct{}{}
		s.pool.Submit(func() {
			defer func() { <-slots }()
			s.handle(data, qid, addr)
		})
	}

	s.logger.Info("server: draining worker ring")
	s.pool.StopWait()

	if s.cachePath != "" && s.dispatch.Cache != nil {
		if err := s.dispatch.Cache.Dump(s.cachePath); err != nil {
			s.logger.Error("server: failed to dump cache on shutdown", slog.Any("error", err))
		}
	}
	return s.sock.Close()
}

func (s *Server) handle(data []byte, qid uint32, addr *net.UDPAddr) {
	f, err := frame.Parse(data)
	if err != nil {
		s.logger.Debug("server: dropping malformed frame", slog.Any("error", err))
		s.sock.Clear(qid)
		return
	}

	reply, err := s.dispatch.Handle(f, recurseBudget)
	if err != nil {
		s.logger.Warn("server: dispatch failed", slog.Any("error", err))
		s.sock.Clear(qid)
		return
	}
	if reply == nil {
		s.sock.Clear(qid)
		return
	}

	if err := s.sock.Reply(reply); err != nil {
		s.logger.Warn("server: failed to send reply", slog.Any("error", err), slog.String("peer", addr.String()))
	}
}

// Shutdown requests a cooperative stop; Run will return once the
// in-flight worker ring drains.
func (s *Server) Shutdown() {
	s.running.Store(false)
}
