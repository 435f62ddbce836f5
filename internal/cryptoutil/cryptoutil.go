// Package cryptoutil is the narrow interface spec.md scopes the
// cryptographic primitives behind: SHA-256 hashing and AES-CBC
// encryption with an embedded IV, treated as opaque byte transforms
// by every caller. Nothing here re-derives a key or re-encrypts
// deterministically; ciphertext size is always asked of EncryptedSize,
// never computed inline.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// HashSize is the width of a SHA-256 digest.
const HashSize = sha256.Size

// Hash returns SHA256(s).
func Hash(s string) [HashSize]byte {
	return sha256.Sum256([]byte(s))
}

// HashTwice returns SHA256(SHA256(s)), the "outer" network-visible key
// derived from an "inner" handle hash.
func HashTwice(s string) (inner, outer [HashSize]byte) {
	inner = Hash(s)
	outer = sha256.Sum256(inner[:])
	return inner, outer
}

// ErrShortCiphertext is returned when a decrypt input is too small to
// contain even the prefixed IV.
var ErrShortCiphertext = errors.New("cryptoutil: ciphertext shorter than one AES block")

// Encrypt AES-256-CBC-encrypts plaintext under key, PKCS#7-padding it
// and prepending a random IV. The key must be 32 bytes (it is always
// a SHA-256 digest in this module).
func Encrypt(key [HashSize]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: encrypt: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())

	out := make([]byte, block.BlockSize()+len(padded))
	iv := out[:block.BlockSize()]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cryptoutil: encrypt: iv: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[block.BlockSize():], padded)
	return out, nil
}

// Decrypt reverses Encrypt.
func Decrypt(key [HashSize]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: decrypt: %w", err)
	}
	bs := block.BlockSize()
	if len(ciphertext) < bs || (len(ciphertext)-bs)%bs != 0 {
		return nil, ErrShortCiphertext
	}
	iv, body := ciphertext[:bs], ciphertext[bs:]
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	return pkcs7Unpad(out, bs)
}

// EncryptedSize reports the ciphertext length Encrypt will produce for
// a plaintext of the given length: IV plus padded body. Callers must
// query this rather than compute it inline, since padding is an
// implementation detail of the AES mode in use.
func EncryptedSize(plaintextLen int) int {
	const blockSize = aes.BlockSize
	padded := ((plaintextLen / blockSize) + 1) * blockSize
	return blockSize + padded
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("cryptoutil: invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("cryptoutil: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("cryptoutil: invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
