// Package securestring seals small values into tamper-proof, encrypted,
// URL-safe strings suitable for cookies, and opens them again.
//
// Keys are derived from application secrets with HKDF-SHA256, so the
// same secret_key can serve several purposes as long as each purpose
// passes its own info string. Pass secrets latest first: Seal always
// uses the first key, Open tries every key, which lets a secret be
// rotated without invalidating values already in flight.
//
// This package assumes that the caller's use case is not sensitive to
// timing attacks on which key index opened a value.
package securestring

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const version byte = 1

const KeySize = chacha20poly1305.KeySize

// Secrets shorter than this are rejected.
const MinSecretLen = 16

const maxSealedBytes = 1 << 20

var (
	ErrNoKeys    = errors.New("securestring: at least one key is required")
	ErrMalformed = errors.New("securestring: malformed value")
	ErrNoKeyOpen = errors.New("securestring: could not open value with any key")
)

type Key *[KeySize]byte

// Keys is a latest-first list of encryption keys.
type Keys []Key

// DeriveKeys derives one key per secret. info separates purposes:
// keys derived with different info strings are unrelated.
func DeriveKeys(info string, secrets ...string) (Keys, error) {
	if len(secrets) == 0 {
		return nil, ErrNoKeys
	}
	keys := make(Keys, 0, len(secrets))
	for i, secret := range secrets {
		if len(secret) < MinSecretLen {
			return nil, fmt.Errorf("securestring: secret %d is shorter than %d bytes", i, MinSecretLen)
		}
		var key [KeySize]byte
		r := hkdf.New(sha256.New, []byte(secret), nil, []byte("panther_securestring_v1_"+info))
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return nil, fmt.Errorf("securestring: deriving key %d: %w", i, err)
		}
		keys = append(keys, &key)
	}
	return keys, nil
}

// Seal JSON-encodes v and encrypts it with the first key.
func Seal(keys Keys, v any) (string, error) {
	if len(keys) == 0 || keys[0] == nil {
		return "", ErrNoKeys
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("securestring: encoding value: %w", err)
	}
	aead, err := newAEAD(keys[0])
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+1+len(payload)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("securestring: reading nonce: %w", err)
	}
	plaintext := append([]byte{version}, payload...)
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	if len(sealed) > maxSealedBytes {
		return "", fmt.Errorf("securestring: sealed value larger than %d bytes", maxSealedBytes)
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts s with the first key that fits and decodes it into a T.
func Open[T any](keys Keys, s string) (T, error) {
	var out T
	if len(keys) == 0 {
		return out, ErrNoKeys
	}
	if s == "" || base64.RawURLEncoding.DecodedLen(len(s)) > maxSealedBytes {
		return out, ErrMalformed
	}
	sealed, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return out, ErrMalformed
	}

	var plaintext []byte
	for _, key := range keys {
		if key == nil {
			continue
		}
		aead, err := newAEAD(key)
		if err != nil {
			return out, err
		}
		if len(sealed) < aead.NonceSize()+aead.Overhead()+1 {
			return out, ErrMalformed
		}
		nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
		if p, err := aead.Open(nil, nonce, ciphertext, nil); err == nil {
			plaintext = p
			break
		}
	}
	if plaintext == nil {
		return out, ErrNoKeyOpen
	}
	if plaintext[0] != version {
		return out, fmt.Errorf("securestring: unsupported version %d", plaintext[0])
	}
	if err := json.Unmarshal(plaintext[1:], &out); err != nil {
		return out, fmt.Errorf("securestring: decoding value: %w", err)
	}
	return out, nil
}

func newAEAD(key Key) (cipher.AEAD, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("securestring: creating cipher: %w", err)
	}
	return aead, nil
}
