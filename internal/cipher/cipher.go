// Package cipher encrypts message payloads at rest.
//
// Stored ciphertext is a Fernet token (AES-128-CBC + HMAC-SHA256) wrapped in
// standard base64. Values that do not have that shape are treated as legacy
// plaintext and returned unchanged by Decrypt.
package cipher

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/hkdf"
)

const (
	fernetVersion = 0x80
	// version(1) + timestamp(8) + iv(16) + hmac(32)
	fernetOverhead = 1 + 8 + 16 + 32
	aesBlockSize   = 16
)

var hkdfInfo = []byte("chat-notify message cipher v1")

var ErrEmptyKey = errors.New("cipher key is empty")

// Cipher is immutable after New and safe for concurrent use.
type Cipher struct {
	keys []*fernet.Key
}

// New builds a Cipher from either an encoded Fernet key or an arbitrary secret.
// Secrets that are not valid Fernet keys are stretched with HKDF-SHA256.
func New(key string) (*Cipher, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	k, err := fernet.DecodeKey(key)
	if err != nil {
		k, err = deriveKey([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("failed to derive cipher key: %w", err)
		}
	}

	return &Cipher{keys: []*fernet.Key{k}}, nil
}

func deriveKey(secret []byte) (*fernet.Key, error) {
	var k fernet.Key
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), k[:]); err != nil {
		return nil, err
	}
	return &k, nil
}

// Encrypt returns nil for nil input.
func (c *Cipher) Encrypt(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}

	tok, err := fernet.EncryptAndSign([]byte(*plaintext), c.keys[0])
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(tok)
	return &encoded, nil
}

// Decrypt returns nil for nil input, the input itself when it is not shaped
// like ciphertext, and nil when the ciphertext fails authentication.
// A nil result for non-nil input means the payload is unrecoverable.
func (c *Cipher) Decrypt(encoded *string) *string {
	if encoded == nil {
		return nil
	}

	tok, ok := tokenBytes(*encoded)
	if !ok {
		return encoded
	}

	msg := fernet.VerifyAndDecrypt(tok, 0, c.keys)
	if msg == nil {
		return nil
	}

	plaintext := string(msg)
	return &plaintext
}

// IsCiphertext reports whether s has the structure of an encrypted payload.
// It never attempts decryption.
func IsCiphertext(s string) bool {
	_, ok := tokenBytes(s)
	return ok
}

func tokenBytes(s string) ([]byte, bool) {
	if s == "" {
		return nil, false
	}

	tok, err := base64.StdEncoding.DecodeString(s)
	if err != nil || base64.StdEncoding.EncodeToString(tok) != s {
		return nil, false
	}

	raw, err := base64.URLEncoding.DecodeString(string(tok))
	if err != nil {
		return nil, false
	}
	if len(raw) < fernetOverhead+aesBlockSize || raw[0] != fernetVersion {
		return nil, false
	}
	if (len(raw)-fernetOverhead)%aesBlockSize != 0 {
		return nil, false
	}

	return tok, true
}
