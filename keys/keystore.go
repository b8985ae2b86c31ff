// Package keys owns the symmetric session keys of a client.
//
// A KeyStore holds at most one AES-256 key per session. Once a key is
// installed only its block cipher is retained: the raw bytes are wiped and
// cannot be read back. Keys live in memory for the lifetime of the store and
// are never persisted.
package keys

import (
	"bytes"
	"collab-lab/domain"
	"collab-lab/errors"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const KeySize = 32

// Argon2id parameters used to stretch a join passphrase into a session key.
const (
	Memory      = 64 * 1024 // 64 MB
	Iterations  = 3
	Parallelism = 2
	SaltLength  = 16
)

type sessionKey struct {
	block       cipher.Block
	fingerprint string
}

type KeyStore struct {
	mu   sync.RWMutex
	keys map[domain.SessionID]sessionKey
}

func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[domain.SessionID]sessionKey)}
}

// GenerateKey returns a fresh random 256-bit key, standard Base64 encoded.
// The key is not installed; the session creator hands it to ImportKey and
// shares it with the other participants out of band.
func GenerateKey() (string, error) {
	raw := make([]byte, KeySize)
	defer zero(raw)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ImportKey installs the Base64 encoded key for the session, replacing any
// previous one.
func (s *KeyStore) ImportKey(sessionID domain.SessionID, encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidKey, err)
	}
	defer zero(raw)
	if len(raw) != KeySize {
		return fmt.Errorf("%w: got %d bytes", errors.ErrInvalidKey, len(raw))
	}
	return s.install(sessionID, raw)
}

// DeriveKey installs a key stretched from a join passphrase with argon2id.
// The salt is bound to the session id so every participant typing the same
// passphrase for the same session ends up with the same key.
func (s *KeyStore) DeriveKey(sessionID domain.SessionID, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("%w: empty passphrase", errors.ErrInvalidKey)
	}
	raw := argon2.IDKey([]byte(passphrase), sessionSalt(sessionID), Iterations, Memory, Parallelism, KeySize)
	defer zero(raw)
	return s.install(sessionID, raw)
}

func sessionSalt(sessionID domain.SessionID) []byte {
	sum := sha256.Sum256([]byte(sessionID.ChannelName()))
	return sum[:SaltLength]
}

func (s *KeyStore) install(sessionID domain.SessionID, raw []byte) error {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidKey, err)
	}
	sum := sha256.Sum256(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[sessionID] = sessionKey{block: block, fingerprint: hex.EncodeToString(sum[:8])}
	return nil
}

func (s *KeyStore) HasKey(sessionID domain.SessionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[sessionID]
	return ok
}

// Fingerprint is a short digest of the installed key, for participants to
// compare out of band.
func (s *KeyStore) Fingerprint(sessionID domain.SessionID) (string, error) {
	key, err := s.lookup(sessionID)
	if err != nil {
		return "", err
	}
	return key.fingerprint, nil
}

// Encrypt seals plaintext with AES-256-CBC under a fresh random IV.
func (s *KeyStore) Encrypt(plaintext string, sessionID domain.SessionID) (domain.EncryptedEnvelope, error) {
	key, err := s.lookup(sessionID)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}

	iv := make([]byte, domain.IVSize)
	if _, err := rand.Read(iv); err != nil {
		return domain.EncryptedEnvelope{}, fmt.Errorf("generate iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(key.block, iv).CryptBlocks(ciphertext, padded)

	return domain.EncryptedEnvelope{IV: iv, Ciphertext: ciphertext}, nil
}

// Decrypt opens an envelope in its "iv:ciphertext" wire form.
func (s *KeyStore) Decrypt(wire string, sessionID domain.SessionID) (string, error) {
	key, err := s.lookup(sessionID)
	if err != nil {
		return "", err
	}
	envelope, err := domain.ParseEnvelope(wire)
	if err != nil {
		return "", err
	}
	if len(envelope.Ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", errors.ErrDecryptionFailed)
	}

	plain := make([]byte, len(envelope.Ciphertext))
	cipher.NewCBCDecrypter(key.block, envelope.IV).CryptBlocks(plain, envelope.Ciphertext)

	unpadded, ok := unpad(plain, aes.BlockSize)
	if !ok {
		return "", fmt.Errorf("%w: bad padding", errors.ErrDecryptionFailed)
	}
	// A wrong key passes the padding check about once in 256 tries.
	if !utf8.Valid(unpadded) {
		return "", fmt.Errorf("%w: plaintext is not valid utf-8", errors.ErrDecryptionFailed)
	}
	return string(unpadded), nil
}

func (s *KeyStore) ClearKey(sessionID domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, sessionID)
}

func (s *KeyStore) ClearAllKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[domain.SessionID]sessionKey)
}

func (s *KeyStore) lookup(sessionID domain.SessionID) (sessionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[sessionID]
	if !ok {
		return sessionKey{}, fmt.Errorf("%w: session %s", errors.ErrKeyNotFound, sessionID)
	}
	return key, nil
}

// pad applies PKCS#7 padding.
func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, blockSize int) ([]byte, bool) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, false
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
