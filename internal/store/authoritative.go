// Package store implements the MARP authoritative store: an in-memory
// map from (outer hash, protocol) to an encrypted address and a TTL,
// built once at startup from the configuration tree and never written
// to again. Grounded on data/local.c's handler/nameHandler cascade.
package store

import (
	"crypto/ecdsa"

	"github.com/ethgordon/marp/internal/keys"
)

// Key is the internal 34-byte (hash, protocol) tuple, represented as
// a comparable struct rather than a packed byte array: Go map keys
// compare by full value equality, which satisfies the "never
// truncated or padded" invariant just as faithfully as a literal
// 34-byte array would, without forcing an internal serialization step
// that never crosses the wire.
type Key struct {
	Hash     [32]byte
	Protocol uint16
}

type entry struct {
	Encrypted []byte
	TTL       uint16
}

// Authoritative is the read-only-after-load store of a host's own
// records.
type Authoritative struct {
	entries map[Key]entry
	keypair *keys.KeyPair
}

// New returns an empty authoritative store signed by keypair.
func New(keypair *keys.KeyPair) *Authoritative {
	return &Authoritative{entries: make(map[Key]entry), keypair: keypair}
}

// Insert records an encrypted address under (outerHash, protocol).
// Called only during config loading, before the store is shared with
// any worker.
func (a *Authoritative) Insert(outerHash [32]byte, protocol uint16, encrypted []byte, ttl uint16) {
	a.entries[Key{Hash: outerHash, Protocol: protocol}] = entry{Encrypted: encrypted, TTL: ttl}
}

// Get returns the encrypted address stored for (hash, protocol).
func (a *Authoritative) Get(hash [32]byte, protocol uint16) ([]byte, bool) {
	e, ok := a.entries[Key{Hash: hash, Protocol: protocol}]
	if !ok {
		return nil, false
	}
	return e.Encrypted, true
}

// TTL returns the TTL recorded for (hash, protocol), or 0 if absent.
func (a *Authoritative) TTL(hash [32]byte, protocol uint16) uint16 {
	e, ok := a.entries[Key{Hash: hash, Protocol: protocol}]
	if !ok {
		return 0
	}
	return e.TTL
}

// PrivateKey returns the host's signing key.
func (a *Authoritative) PrivateKey() *ecdsa.PrivateKey {
	return a.keypair.Private
}

// PublicKeyBytes returns the host's 65-byte uncompressed public key.
func (a *Authoritative) PublicKeyBytes() []byte {
	return a.keypair.PublicKeyBytes()
}

// Len reports the number of loaded entries, mainly for logging at startup.
func (a *Authoritative) Len() int {
	return len(a.entries)
}
