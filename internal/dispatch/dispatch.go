// Package dispatch implements the MARP server's per-request state
// machine: validate, mux on opcode, parse the query, then try the
// authoritative store, the response cache, and finally recursion to
// peers, in that order, stopping as soon as an answer is complete.
// Grounded on app/DNS.go's handleDNSQuery dispatch shape, generalized
// from a DNS question/answer loop to MARP's authoritative/cache/
// recurse cascade described by spec.md §4.9.
package dispatch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ethgordon/marp/internal/cache"
	"github.com/ethgordon/marp/internal/frame"
	"github.com/ethgordon/marp/internal/header"
	"github.com/ethgordon/marp/internal/peerset"
	"github.com/ethgordon/marp/internal/query"
	"github.com/ethgordon/marp/internal/recursor"
	"github.com/ethgordon/marp/internal/response"
	"github.com/ethgordon/marp/internal/store"
)

// PeerMax bounds how many peers a single recurse pass fans out to.
const PeerMax = 10

// Context bundles everything a single dispatch needs, constructed
// once in main and shared read-mostly across every worker.
type Context struct {
	Store  *store.Authoritative
	Cache  *cache.ResponseCache
	Peers  *peerset.PeerSet
	Logger *slog.Logger
}

// Handle runs the 7-step state machine on one inbound frame and
// returns the serialized reply datagram, or a nil slice with a nil
// error if the frame must be dropped silently (an unsupported
// version, per spec's UnsupportedVersion handling).
func (c *Context) Handle(req *frame.Frame, budget time.Duration) ([]byte, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Validate header.
	if req.Header.Version() != header.Version {
		logger.Info("dispatch: dropping unsupported version", slog.Any("version", req.Header.Version()))
		return nil, nil
	}
	if !req.Header.IsQuery() || req.Header.Z() != 0 {
		return c.replyOp(req, header.OpMAL, false, nil)
	}

	// 2. Op mux.
	switch req.Header.GetOp() {
	case header.OpSTD:
		// fully handled below
	case header.OpPNG:
		return c.replyOp(req, header.OpPNG, false, nil)
	case header.OpREV:
		return c.replyOp(req, header.OpNTF, false, nil)
	case header.OpPER:
		return c.replyOp(req, header.OpPER, false, nil)
	default:
		return c.replyOp(req, header.OpMAL, false, nil)
	}

	// 3. Parse query.
	q, err := query.Parse(req.Payload)
	if err != nil {
		logger.Debug("dispatch: malformed query payload", slog.Any("error", err))
		return c.replyOp(req, header.OpMAL, false, nil)
	}

	working := &query.Query{Hash: q.Hash}
	for _, p := range q.Protocols() {
		_ = working.AddProtocol(p)
	}

	resp := response.New(q.Hash)

	// 4. Authoritative pass.
	authHit := false
	for _, protocol := range q.Protocols() {
		encrypted, ok := c.Store.Get(q.Hash, protocol)
		if !ok {
			continue
		}
		ttl := c.Store.TTL(q.Hash, protocol)
		if err := resp.AddRecord(response.Record{Protocol: protocol, Bytes: encrypted, TTL: ttl, Timestamp: time.Now().Unix()}); err != nil {
			continue
		}
		authHit = true
	}
	if authHit {
		if err := resp.Sign(c.Store.PrivateKey()); err != nil {
			logger.Warn("dispatch: failed to sign authoritative response", slog.Any("error", err))
		}
		return c.replyOp(req, header.OpSTD, true, resp)
	}

	// 5. Cache pass: only when the client permits a non-authoritative answer.
	if !req.Header.IsAA() && c.Cache != nil {
		for _, protocol := range q.Protocols() {
			key := store.Key{Hash: q.Hash, Protocol: protocol}
			cached, ok := c.Cache.Get(key)
			if !ok {
				continue
			}
			for _, rec := range cached.Records {
				if err := resp.AddRecord(rec); err == nil {
					working.RemoveProtocol(protocol)
				}
			}
		}
		if working.Empty() {
			return c.replyOp(req, header.OpSTD, false, resp)
		}
	}

	// 6. Recurse pass.
	if req.Header.IsRD() && req.Header.Recurse > 0 && c.Peers != nil {
		outPayload, err := working.Serialize()
		if err != nil {
			return c.replyOp(req, header.OpMAL, false, nil)
		}
		outFrame, err := frame.BuildQuery(header.OpSTD, false, true, req.Header.Recurse-1, outPayload)
		if err != nil {
			return c.replyOp(req, header.OpMAL, false, nil)
		}
		outFrame.Header.QID = req.Header.QID
		outData, err := outFrame.Serialize()
		if err != nil {
			return c.replyOp(req, header.OpMAL, false, nil)
		}

		rcur, err := recursor.New(outData, c.Peers, PeerMax, budget)
		if err != nil {
			logger.Warn("dispatch: recursor setup failed", slog.Any("error", err))
		} else {
			defer rcur.Free()
			for {
				data, ok := rcur.Poll()
				if !ok {
					break
				}
				reply, err := frame.Parse(data)
				if err != nil || reply.Header.GetOp() != header.OpSTD || reply.Header.Z() != 0 || reply.Header.QID != outFrame.Header.QID {
					continue
				}
				peerResp, err := response.Parse(reply.Payload)
				if err != nil {
					continue
				}
				if response.Merge(resp, peerResp) > 0 && c.Cache != nil {
					for _, rec := range peerResp.Records {
						single := response.New(q.Hash)
						_ = single.AddRecord(rec)
						c.Cache.AddOrUpdate(store.Key{Hash: q.Hash, Protocol: rec.Protocol}, single)
					}
				}
			}
		}
	}

	// 7. Finalize.
	if resp.RecordCount() == 0 {
		return c.replyOp(req, header.OpNTF, false, nil)
	}
	return c.replyOp(req, header.OpSTD, req.Header.IsAA(), resp)
}

func (c *Context) replyOp(req *frame.Frame, op header.Op, aa bool, resp *response.Response) ([]byte, error) {
	var payload []byte
	if resp != nil {
		body, err := resp.Serialize()
		if err != nil {
			return nil, fmt.Errorf("dispatch: serializing response: %w", err)
		}
		payload = body
	}
	reply, err := frame.Reply(req, op, aa, payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: building reply: %w", err)
	}
	out, err := reply.Serialize()
	if err != nil {
		return nil, fmt.Errorf("dispatch: serializing reply: %w", err)
	}
	return out, nil
}
