// Package vault encrypts OAuth client secrets and tokens for storage at rest.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo scopes the derived key to credential storage.
const hkdfInfo = "videosync credential vault v1"

var (
	// ErrCrypto is the sentinel matched by every CryptoError.
	ErrCrypto = errors.New("vault: crypto failure")
	// ErrNoKeyMaterial is returned by New when no secret strings are given.
	ErrNoKeyMaterial = errors.New("vault: no key material")
)

// CryptoError reports a stored secret that could not be decoded or authenticated.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("vault: %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// Is reports ErrCrypto so callers can match any vault failure.
func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }

// Vault seals values with XChaCha20-Poly1305. The key is derived once from
// the installation secrets and is never exposed.
type Vault struct {
	aead cipher.AEAD
}

// New derives the vault key from the concatenation of secrets.
func New(secrets ...string) (*Vault, error) {
	material := strings.Join(secrets, "")
	if material == "" {
		return nil, ErrNoKeyMaterial
	}

	hk := hkdf.New(sha256.New, []byte(material), nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt returns base64(nonce || ciphertext). Every call draws a fresh nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", &CryptoError{Op: "encrypt", Err: err}
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. An empty blob is reported as absent (ok=false)
// rather than as an error.
func (v *Vault) Decrypt(blob string) (plaintext string, ok bool, err error) {
	if blob == "" {
		return "", false, nil
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", false, &CryptoError{Op: "decode", Err: err}
	}

	ns := v.aead.NonceSize()
	if minLen := ns + v.aead.Overhead(); len(raw) < minLen {
		return "", false, &CryptoError{
			Op:  "decrypt",
			Err: fmt.Errorf("ciphertext too short: got %d bytes, need at least %d", len(raw), minLen),
		}
	}

	out, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", false, &CryptoError{Op: "decrypt", Err: err}
	}
	return string(out), true, nil
}
