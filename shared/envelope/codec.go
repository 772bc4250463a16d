// Package envelope turns payloads into the encrypted string form carried on
// the message bus and back again.
//
// An envelope is base64(nonce || XChaCha20-Poly1305(json(payload))). The key is
// derived from the shared secret with HKDF-SHA256, so every service configured
// with the same ENCRYPTION_SECRET can read every other service's messages.
package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	minSecretLength = 16
	keyInfo         = "core-banking/envelope/v1"
)

var ErrWeakSecret = errors.New("envelope secret too short")

// Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

func NewCodec(secret string) (*Codec, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, minSecretLength)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive envelope key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create envelope cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encode serialises v to JSON and seals it.
func (c *Codec) Encode(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %v", apperr.ErrEncodingFailure, err)
	}
	return c.Seal(plain)
}

// Decode opens an envelope and unmarshals the JSON into v.
func (c *Codec) Decode(envelope string, v any) error {
	plain, err := c.Open(envelope)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", apperr.ErrEncodingFailure, err)
	}
	return nil
}

// Seal encrypts raw bytes without touching their encoding.
func (c *Codec) Seal(plain []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", apperr.ErrEncodingFailure, err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Tampered or foreign envelopes fail authentication.
func (c *Codec) Open(envelope string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", apperr.ErrEncodingFailure, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: envelope truncated", apperr.ErrEncodingFailure)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %v", apperr.ErrEncodingFailure, err)
	}
	return plain, nil
}
