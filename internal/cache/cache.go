// Package cache implements the MARP response cache: a bounded,
// recently-used eviction cache of previously-seen answers keyed by
// (hash, protocol), backed by github.com/hashicorp/golang-lru so the
// full key set stays enumerable for Dump/Load snapshotting. Grounded
// on internal/cache/Cache.go's shape (mutex-free wrapper type, Get/Put
// pair, slog-logged updates) with the teacher's own expiry-ticker
// dropped in favor of the library's LRU bound plus per-record TTL
// checked lazily on Get.
package cache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethgordon/marp/internal/response"
	"github.com/ethgordon/marp/internal/store"
)

const defaultSize = 4096

// ResponseCache holds previously-seen, possibly-merged Responses so a
// repeated query for the same (hash, protocol) can be answered without
// re-asking an authoritative peer, until the record's TTL lapses.
type ResponseCache struct {
	lru    *lru.Cache
	logger *slog.Logger
}

type entry struct {
	resp     *response.Response
	storedAt time.Time
}

// New builds an empty cache holding up to size entries, evicting the
// least recently used once full.
func New(size int, logger *slog.Logger) (*ResponseCache, error) {
	if size <= 0 {
		size = defaultSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &ResponseCache{lru: c, logger: logger}, nil
}

// Get returns the cached response for key if present and not entirely
// expired (every record's TTL has lapsed), and whether it was found.
func (c *ResponseCache) Get(key store.Key) (*response.Response, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if c.allExpired(e) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.resp, true
}

func (c *ResponseCache) allExpired(e entry) bool {
	age := time.Since(e.storedAt)
	for _, rec := range e.resp.Records {
		if age < time.Duration(rec.TTL)*time.Second {
			return false
		}
	}
	return len(e.resp.Records) > 0
}

// AddOrUpdate stores a defensive copy of resp under key, so later
// mutation of the caller's Response (e.g. via Merge) cannot corrupt
// the cached copy.
func (c *ResponseCache) AddOrUpdate(key store.Key, resp *response.Response) {
	cp := *resp
	cp.Records = append([]response.Record(nil), resp.Records...)
	c.lru.Add(key, entry{resp: &cp, storedAt: time.Now()})
	if c.logger != nil {
		c.logger.Debug("cache updated", slog.Int("records", len(cp.Records)))
	}
}

// Len reports the current entry count.
func (c *ResponseCache) Len() int {
	return c.lru.Len()
}

// Dump writes every live entry to path as a sequence of records, each
// the 32-byte hash, the 2-byte protocol, an 8-byte length and the
// serialized Response, with protocol and length native-endian, matching
// cache/serialize.c's on-disk format which was never made portable
// across architectures.
func (c *ResponseCache) Dump(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cache: dump: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		e := v.(entry)
		key := k.(store.Key)

		body, err := e.resp.Serialize()
		if err != nil {
			return fmt.Errorf("cache: dump: serializing entry: %w", err)
		}

		if _, err := w.Write(key.Hash[:]); err != nil {
			return err
		}
		var protoBuf [2]byte
		binary.NativeEndian.PutUint16(protoBuf[:], key.Protocol)
		if _, err := w.Write(protoBuf[:]); err != nil {
			return err
		}

		var lenBuf [8]byte
		binary.NativeEndian.PutUint64(lenBuf[:], uint64(len(body)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a snapshot written by Dump. A truncated trailing record
// (the process having been killed mid-write) is tolerated: Load stops
// cleanly at the first short read rather than returning an error.
func Load(path string, size int, logger *slog.Logger) (*ResponseCache, error) {
	c, err := New(size, logger)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: load: %w", err)
	}
	defer f.Close()

	for {
		var hash [32]byte
		if _, err := io.ReadFull(f, hash[:]); err != nil {
			break
		}
		var protoBuf [2]byte
		if _, err := io.ReadFull(f, protoBuf[:]); err != nil {
			break
		}
		var lenBuf [8]byte
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			break
		}
		n := binary.NativeEndian.Uint64(lenBuf[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(f, body); err != nil {
			break // partial trailing record: stop, don't error
		}

		resp, err := response.Parse(body)
		if err != nil {
			if logger != nil {
				logger.Warn("cache: skipping unparsable snapshot entry", slog.Any("error", err))
			}
			continue
		}
		key := store.Key{Hash: hash, Protocol: binary.NativeEndian.Uint16(protoBuf[:])}
		c.lru.Add(key, entry{resp: resp, storedAt: time.Now()})
	}

	return c, nil
}
