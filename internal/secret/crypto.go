// Package secret holds the primitives for short verification codes: salted
// peppered hashes for checking them and authenticated encryption for
// redisplaying them.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

const (
	SaltSize  = 16
	NonceSize = 12
	TagSize   = 16
	keySize   = 32
)

// GenerateSalt returns 16 cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// NumericCode returns a uniformly random decimal code of the given length,
// leading zeros included.
func NumericCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// Hasher computes HMAC-SHA256(pepper, salt || code).
type Hasher struct {
	pepper []byte
}

func NewHasher(pepper string) (*Hasher, error) {
	if pepper == "" {
		return nil, errors.New("hasher: empty pepper")
	}
	return &Hasher{pepper: []byte(pepper)}, nil
}

func (h *Hasher) Hash(salt []byte, code string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write(salt)
	mac.Write([]byte(code))
	return mac.Sum(nil)
}

// Verify compares in constant time.
func (h *Hasher) Verify(salt, want []byte, code string) bool {
	return hmac.Equal(h.Hash(salt, code), want)
}

// Sealer encrypts short values with AES-256-GCM under a key derived from a
// deployment secret with HKDF-SHA256.
type Sealer struct {
	gcm cipher.AEAD
}

// DeriveKey expands secret into a 32-byte key bound to info.
func DeriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func NewSealer(secret, info string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("sealer: empty secret")
	}
	key, err := DeriveKey(secret, info)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext and returns ciphertext, nonce and tag separately.
// aad binds the result to its owner; Open must be given the same aad.
func (s *Sealer) Seal(plaintext, aad []byte) (ciphertext, nonce, tag []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize
	return sealed[:split], nonce, sealed[split:], nil
}

func (s *Sealer) Open(ciphertext, nonce, tag, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize || len(tag) != TagSize {
		return nil, errors.New("open: malformed nonce or tag")
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := s.gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
