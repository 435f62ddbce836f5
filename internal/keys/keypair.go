// Package keys manages a host's ECDSA-P256 server keypair: generate
// once, persist as a 32-byte raw private key file (mode 0600) plus a
// Base64-encoded 65-byte uncompressed public key, and never overwrite
// an existing file. Grounded on the key-load/generate cascade in the
// original local.c, expressed with stdlib crypto/ecdsa rather than
// ported line for line.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"os"
)

// PrivateKeySize is the width of the raw scalar persisted to disk.
const PrivateKeySize = 32

// PublicKeySize is the width of an uncompressed P-256 point: 0x04‖X‖Y.
const PublicKeySize = 65

// KeyPair is a host's signing identity.
type KeyPair struct {
	Private *ecdsa.PrivateKey
}

// PublicKeyBytes returns the 65-byte uncompressed public key.
func (k *KeyPair) PublicKeyBytes() []byte {
	return elliptic.Marshal(elliptic.P256(), k.Private.PublicKey.X, k.Private.PublicKey.Y)
}

// PublicKeyBase64 returns the Base64 text suitable for an
// out-of-band advertisement (e.g. a DNS TXT record).
func (k *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.PublicKeyBytes())
}

// LoadOrGenerate reads the raw private key from path if it exists, or
// generates a fresh P-256 keypair and persists it (mode 0600) plus a
// "<path>.pub" Base64 public key file alongside it. An existing
// private key file is never overwritten.
func LoadOrGenerate(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		return loadFromRaw(raw)
	case errors.Is(err, os.ErrNotExist):
		return generateAndPersist(path)
	default:
		return nil, fmt.Errorf("keys: reading %s: %w", path, err)
	}
}

func loadFromRaw(raw []byte) (*KeyPair, error) {
	if len(raw) != PrivateKeySize {
		return nil, fmt.Errorf("keys: private key file is %d bytes, want %d", len(raw), PrivateKeySize)
	}
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	x, y := curve.ScalarBaseMult(raw)
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
	return &KeyPair{Private: priv}, nil
}

func generateAndPersist(path string) (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	kp := &KeyPair{Private: priv}

	raw := make([]byte, PrivateKeySize)
	priv.D.FillBytes(raw)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("keys: writing %s: %w", path, err)
	}
	pubPath := path + ".pub"
	if err := os.WriteFile(pubPath, []byte(kp.PublicKeyBase64()), 0o644); err != nil {
		return nil, fmt.Errorf("keys: writing %s: %w", pubPath, err)
	}
	return kp, nil
}
