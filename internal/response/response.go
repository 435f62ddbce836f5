// Package response implements the MARP response payload: a hash, a
// list of per-protocol records, an optional trailing ECDSA signature,
// and the dest/src merge policy used to fold a recursive peer's reply
// into the working answer.
package response

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethgordon/marp/internal/cryptoutil"
	"github.com/ethgordon/marp/internal/query"
)

// HashSize matches query.HashSize; every response answers one query hash.
const HashSize = query.HashSize

// SignatureSize is the wire width of the trailing signature field: a
// 1-byte format tag followed by a raw P-256 r‖s pair (32 bytes each).
const SignatureSize = 1 + 32 + 32

const sigTagRawP256 = 0x01

// ErrProtocolExists is returned by AddRecord when a record already
// exists for that protocol; callers that want replacement should
// remove the old record first.
var ErrProtocolExists = errors.New("response: at most one record per protocol")

// Record is a single per-protocol answer.
type Record struct {
	Protocol  uint16
	Bytes     []byte
	TTL       uint16
	Timestamp int64
}

// Response is a parsed response payload.
type Response struct {
	Hash      [HashSize]byte
	Records   []Record
	Signature []byte // nil, or SignatureSize bytes
}

// New builds an empty response answering the given hash.
func New(hash [HashSize]byte) *Response {
	return &Response{Hash: hash}
}

// ID returns the response's hash.
func (r *Response) ID() [HashSize]byte { return r.Hash }

// RecordCount returns the number of records carried.
func (r *Response) RecordCount() int { return len(r.Records) }

// Signed reports whether this response carries a signature, i.e. is authoritative.
func (r *Response) Signed() bool { return len(r.Signature) == SignatureSize }

// GetRecord returns the record for protocol, if any.
func (r *Response) GetRecord(protocol uint16) (Record, bool) {
	for _, rec := range r.Records {
		if rec.Protocol == protocol {
			return rec, true
		}
	}
	return Record{}, false
}

// AddRecord appends rec, enforcing the at-most-one-per-protocol invariant.
func (r *Response) AddRecord(rec Record) error {
	if _, ok := r.GetRecord(rec.Protocol); ok {
		return fmt.Errorf("%w: protocol %d", ErrProtocolExists, rec.Protocol)
	}
	r.Records = append(r.Records, rec)
	return nil
}

// BuildRecord constructs a record stamped with the current time.
func BuildRecord(protocol uint16, bytes []byte, ttl uint16) Record {
	return Record{Protocol: protocol, Bytes: bytes, TTL: ttl, Timestamp: time.Now().Unix()}
}

// Size returns the exact byte count of Serialize's output.
func (r *Response) Size() int {
	n := HashSize + 1
	for _, rec := range r.Records {
		n += 2 + 2 + len(rec.Bytes) + 2 + 8
	}
	if r.Signed() {
		n += SignatureSize
	}
	return n
}

// Serialize writes hash, record count, records, and the optional signature.
func (r *Response) Serialize() ([]byte, error) {
	if len(r.Records) > 255 {
		return nil, fmt.Errorf("response: %d records exceeds the 1-byte record count", len(r.Records))
	}
	buf := make([]byte, 0, r.Size())
	buf = append(buf, r.Hash[:]...)
	buf = append(buf, byte(len(r.Records)))

	var u16 [2]byte
	var u64 [8]byte
	for _, rec := range r.Records {
		binary.BigEndian.PutUint16(u16[:], rec.Protocol)
		buf = append(buf, u16[:]...)
		binary.BigEndian.PutUint16(u16[:], uint16(len(rec.Bytes)))
		buf = append(buf, u16[:]...)
		buf = append(buf, rec.Bytes...)
		binary.BigEndian.PutUint16(u16[:], rec.TTL)
		buf = append(buf, u16[:]...)
		binary.BigEndian.PutUint64(u64[:], uint64(rec.Timestamp))
		buf = append(buf, u64[:]...)
	}

	if r.Signed() {
		buf = append(buf, r.Signature...)
	}
	return buf, nil
}

// signableBody serializes the hash, record count and records without
// any trailing signature: this is what gets signed and verified.
func (r *Response) signableBody() ([]byte, error) {
	unsigned := &Response{Hash: r.Hash, Records: r.Records}
	return unsigned.Serialize()
}

// Parse decodes a response payload, recognizing a trailing signature
// when exactly SignatureSize (65) bytes remain after the records.
func Parse(data []byte) (*Response, error) {
	if len(data) < HashSize+1 {
		return nil, fmt.Errorf("response: payload shorter than hash+count (%d bytes)", len(data))
	}
	r := &Response{}
	copy(r.Hash[:], data[:HashSize])
	count := int(data[HashSize])
	i := HashSize + 1

	for n := 0; n < count; n++ {
		if i+2+2 > len(data) {
			return nil, fmt.Errorf("response: truncated record header at record %d", n)
		}
		protocol := binary.BigEndian.Uint16(data[i : i+2])
		i += 2
		length := int(binary.BigEndian.Uint16(data[i : i+2]))
		i += 2
		if i+length+2+8 > len(data) {
			return nil, fmt.Errorf("response: truncated record body at record %d", n)
		}
		bs := make([]byte, length)
		copy(bs, data[i:i+length])
		i += length
		ttl := binary.BigEndian.Uint16(data[i : i+2])
		i += 2
		ts := int64(binary.BigEndian.Uint64(data[i : i+8]))
		i += 8
		r.Records = append(r.Records, Record{Protocol: protocol, Bytes: bs, TTL: ttl, Timestamp: ts})
	}

	if remaining := len(data) - i; remaining > 0 {
		if remaining != SignatureSize {
			return nil, fmt.Errorf("response: %d trailing bytes is not a valid signature field", remaining)
		}
		r.Signature = make([]byte, SignatureSize)
		copy(r.Signature, data[i:])
	}

	return r, nil
}

// Sign computes a signature over the serialized record body and
// stores it in the 65-byte tag‖r‖s form.
func (r *Response) Sign(priv *ecdsa.PrivateKey) error {
	body, err := r.signableBody()
	if err != nil {
		return fmt.Errorf("response: sign: %w", err)
	}
	digest := sha256.Sum256(body)
	rr, ss, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return fmt.Errorf("response: sign: %w", err)
	}
	sig := make([]byte, SignatureSize)
	sig[0] = sigTagRawP256
	rr.FillBytes(sig[1:33])
	ss.FillBytes(sig[33:65])
	r.Signature = sig
	return nil
}

// Verify reports whether the stored signature is valid for the
// current record body under pub.
func (r *Response) Verify(pub *ecdsa.PublicKey) bool {
	if !r.Signed() || r.Signature[0] != sigTagRawP256 {
		return false
	}
	body, err := r.signableBody()
	if err != nil {
		return false
	}
	digest := sha256.Sum256(body)
	rr := new(big.Int).SetBytes(r.Signature[1:33])
	ss := new(big.Int).SetBytes(r.Signature[33:65])
	return ecdsa.Verify(pub, digest[:], rr, ss)
}

// DecodePublicKey parses a raw 65-byte uncompressed P-256 point.
func DecodePublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), raw)
	if x == nil {
		return nil, errors.New("response: invalid uncompressed P-256 public key")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// Merge folds src into dest following the signature-priority,
// timestamp-tiebreak policy, mutating dest and returning the count of
// records added or replaced by src.
func Merge(dest, src *Response) int {
	switch {
	case dest.Signed() && !src.Signed():
		return 0
	case !dest.Signed() && src.Signed():
		hash := dest.Hash
		dest.Records = append([]Record(nil), src.Records...)
		dest.Signature = append([]byte(nil), src.Signature...)
		dest.Hash = hash
		return len(dest.Records)
	case dest.Signed() && src.Signed():
		return 0
	default:
		destByProto := make(map[uint16]Record, len(dest.Records))
		for _, rec := range dest.Records {
			destByProto[rec.Protocol] = rec
		}
		touched := make(map[uint16]bool, len(src.Records))
		merged := make([]Record, 0, len(dest.Records)+len(src.Records))
		count := 0

		for _, srec := range src.Records {
			touched[srec.Protocol] = true
			if drec, ok := destByProto[srec.Protocol]; ok {
				if srec.Timestamp > drec.Timestamp {
					merged = append(merged, srec)
					count++
				} else {
					merged = append(merged, drec)
				}
			} else {
				merged = append(merged, srec)
				count++
			}
		}
		for _, drec := range dest.Records {
			if !touched[drec.Protocol] {
				merged = append(merged, drec)
			}
		}
		dest.Records = merged
		return count
	}
}

// PrintDecrypted AES-decrypts every record under key and writes a
// summary line followed by one human-readable line per protocol to w;
// this is the mlookup-side
// presentation of a reply, not part of the wire format.
func (r *Response) PrintDecrypted(w io.Writer, key [cryptoutil.HashSize]byte) error {
	fmt.Fprintf(w, "response for %x: %d record(s), signed=%v\n", r.Hash, len(r.Records), r.Signed())
	for _, rec := range r.Records {
		plain, err := cryptoutil.Decrypt(key, rec.Bytes)
		if err != nil {
			fmt.Fprintf(w, "  protocol %d: <undecryptable: %v>\n", rec.Protocol, err)
			continue
		}
		fmt.Fprintf(w, "  protocol %d: %s (ttl=%ds)\n", rec.Protocol, plain, rec.TTL)
	}
	return nil
}
