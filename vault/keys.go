package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// KeyProvider supplies the document encryption key.
type KeyProvider interface {
	EncryptionKey(ctx context.Context) ([]byte, error)
}

// ErrNoKey is returned by providers that have no key configured.
var ErrNoKey = errors.New("vault: no encryption key configured")

// StaticKey is a fixed 32-byte key held in memory.
type StaticKey struct {
	key []byte
}

// NewStaticKey copies key into a StaticKey.
func NewStaticKey(key []byte) (*StaticKey, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &StaticKey{key: append([]byte(nil), key...)}, nil
}

// ParseKey decodes a hex or standard base64 encoded 32-byte key.
func ParseKey(s string) (*StaticKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoKey
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) == KeySize {
		return NewStaticKey(b)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("vault: key is neither hex nor base64: %w", err)
	}
	return NewStaticKey(b)
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("vault: generate key: %w", err)
	}
	return key, nil
}

func (k *StaticKey) EncryptionKey(context.Context) ([]byte, error) {
	return k.key, nil
}

// Argon2id parameters for PassphraseKey.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// PassphraseKey derives the key from a passphrase and salt with Argon2id.
// Derivation runs once, on first use.
type PassphraseKey struct {
	passphrase []byte
	salt       []byte

	once sync.Once
	key  []byte
	err  error
}

// NewPassphraseKey returns a provider deriving its key from passphrase.
// The salt must be at least 16 bytes and stable for the life of the vault.
func NewPassphraseKey(passphrase string, salt []byte) (*PassphraseKey, error) {
	if passphrase == "" {
		return nil, ErrNoKey
	}
	if len(salt) < 16 {
		return nil, errors.New("vault: salt must be at least 16 bytes")
	}
	return &PassphraseKey{
		passphrase: []byte(passphrase),
		salt:       append([]byte(nil), salt...),
	}, nil
}

func (p *PassphraseKey) EncryptionKey(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.once.Do(func() {
		p.key = argon2.IDKey(p.passphrase, p.salt, argonTime, argonMemory, argonThreads, KeySize)
		clear(p.passphrase)
	})
	return p.key, p.err
}
