package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/hkdf"
)

const (
	keyInfo    = "chathub message content v1"
	sealPrefix = "g1."
)

var ErrDecrypt = errors.New("failed to decrypt message payload")

// Encryptor seals message content at rest. Sealed values look like
// "g1.<base64url(nonce|ciphertext)>" under an HKDF-derived AES-256-GCM key.
// Rotated secrets are kept as a key ring: plain secrets open older g1
// values, Fernet keys open content written before the g1 format.
type Encryptor struct {
	current cipher.AEAD
	ring    []cipher.AEAD
	fernet  []*fernet.Key
}

func NewEncryptor(key []byte, legacyKeys []string) (*Encryptor, error) {
	if len(key) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	current, err := deriveAEAD(key)
	if err != nil {
		return nil, err
	}
	e := &Encryptor{current: current, ring: []cipher.AEAD{current}}
	if fk := parseFernetKey(string(key)); fk != nil {
		e.fernet = append(e.fernet, fk)
	}
	for _, raw := range legacyKeys {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if fk := parseFernetKey(raw); fk != nil {
			e.fernet = append(e.fernet, fk)
			continue
		}
		old, err := deriveAEAD([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("legacy key: %w", err)
		}
		e.ring = append(e.ring, old)
	}
	return e, nil
}

func deriveAEAD(secret []byte) (cipher.AEAD, error) {
	k := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), k); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func parseFernetKey(raw string) *fernet.Key {
	key, err := fernet.DecodeKey(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return key
}

func (e *Encryptor) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.current.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.current.Seal(nonce, nonce, []byte(plain), nil)
	return sealPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(enc string) (string, error) {
	if body, ok := strings.CutPrefix(enc, sealPrefix); ok {
		raw, err := base64.RawURLEncoding.DecodeString(body)
		if err != nil {
			return "", ErrDecrypt
		}
		for _, aead := range e.ring {
			n := aead.NonceSize()
			if len(raw) < n {
				break
			}
			if plain, err := aead.Open(nil, raw[:n], raw[n:], nil); err == nil {
				return string(plain), nil
			}
		}
		return "", ErrDecrypt
	}

	if len(e.fernet) > 0 {
		if plain := fernet.VerifyAndDecrypt([]byte(enc), 0, e.fernet); plain != nil {
			return string(plain), nil
		}
	}
	return "", ErrDecrypt
}
