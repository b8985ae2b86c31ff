package keys

import (
	"collab-lab/domain"
	"collab-lab/errors"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const session = domain.SessionID("s-42")

func newStoreWithKey(t *testing.T, sessionID domain.SessionID) (*KeyStore, string) {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	store := NewKeyStore()
	require.NoError(t, store.ImportKey(sessionID, key))
	return store, key
}

func TestKeyStore_EncryptDecrypt_RoundTrip(t *testing.T) {
	req := require.New(t)
	store, _ := newStoreWithKey(t, session)

	for _, plaintext := range []string{"", "hi", "Can you explain step 3?", "exactly sixteen!", "émoji 🎉 ok", strings.Repeat("x", 4000)} {
		envelope, err := store.Encrypt(plaintext, session)
		req.NoError(err)
		req.Len(envelope.IV, domain.IVSize)

		got, err := store.Decrypt(envelope.String(), session)
		req.NoError(err)
		req.Equal(plaintext, got)
	}
}

func TestKeyStore_Encrypt_UsesFreshIV(t *testing.T) {
	req := require.New(t)
	store, _ := newStoreWithKey(t, session)

	// When the same plaintext is encrypted twice
	first, err := store.Encrypt("same text", session)
	req.NoError(err)
	second, err := store.Encrypt("same text", session)
	req.NoError(err)

	// Then IV and ciphertext differ
	req.NotEqual(first.IV, second.IV)
	req.NotEqual(first.String(), second.String())
}

func TestKeyStore_Decrypt_WithAnotherKeyFails(t *testing.T) {
	req := require.New(t)
	alice, _ := newStoreWithKey(t, session)
	mallory, _ := newStoreWithKey(t, session)

	envelope, err := alice.Encrypt("Can you explain step 3?", session)
	req.NoError(err)

	_, err = mallory.Decrypt(envelope.String(), session)
	req.ErrorIs(err, errors.ErrDecryptionFailed)
}

func TestKeyStore_Decrypt_MalformedEnvelope(t *testing.T) {
	req := require.New(t)
	store, _ := newStoreWithKey(t, session)

	_, err := store.Decrypt("not-a-valid-envelope", session)
	req.ErrorIs(err, errors.ErrMalformedEnvelope)

	_, err = store.Decrypt("a:b:c", session)
	req.ErrorIs(err, errors.ErrMalformedEnvelope)
}

func TestKeyStore_Decrypt_TruncatedCiphertext(t *testing.T) {
	req := require.New(t)
	store, _ := newStoreWithKey(t, session)

	envelope, err := store.Encrypt("a message that spans two blocks", session)
	req.NoError(err)
	envelope.Ciphertext = envelope.Ciphertext[:len(envelope.Ciphertext)-3]

	_, err = store.Decrypt(envelope.String(), session)
	req.ErrorIs(err, errors.ErrDecryptionFailed)
}

func TestKeyStore_MissingKey(t *testing.T) {
	req := require.New(t)
	store := NewKeyStore()

	req.False(store.HasKey(session))
	_, err := store.Encrypt("hello", session)
	req.ErrorIs(err, errors.ErrKeyNotFound)
	_, err = store.Decrypt("AAAA:BBBB", session)
	req.ErrorIs(err, errors.ErrKeyNotFound)
	_, err = store.Fingerprint(session)
	req.ErrorIs(err, errors.ErrKeyNotFound)
}

func TestKeyStore_ClearKey(t *testing.T) {
	req := require.New(t)
	store, _ := newStoreWithKey(t, session)
	other := domain.SessionID("s-43")
	key, err := GenerateKey()
	req.NoError(err)
	req.NoError(store.ImportKey(other, key))

	// When the first session key is cleared
	store.ClearKey(session)

	// Then only that session lost its key
	req.False(store.HasKey(session))
	req.True(store.HasKey(other))
	_, err = store.Encrypt("hello", session)
	req.ErrorIs(err, errors.ErrKeyNotFound)

	store.ClearAllKeys()
	req.False(store.HasKey(other))
}

func TestKeyStore_ImportKey_Invalid(t *testing.T) {
	req := require.New(t)
	store := NewKeyStore()

	req.ErrorIs(store.ImportKey(session, "%%% not base64"), errors.ErrInvalidKey)
	short := base64.StdEncoding.EncodeToString(make([]byte, 16))
	req.ErrorIs(store.ImportKey(session, short), errors.ErrInvalidKey)
	req.False(store.HasKey(session))
}

func TestKeyStore_SharedKey_BetweenTwoParticipants(t *testing.T) {
	req := require.New(t)

	// Given Alice generated the key and shared it with Bob
	alice, key := newStoreWithKey(t, session)
	bob := NewKeyStore()
	req.NoError(bob.ImportKey(session, key))

	// When Alice encrypts
	envelope, err := alice.Encrypt("Can you explain step 3?", session)
	req.NoError(err)

	// Then Bob reads it and both see the same fingerprint
	got, err := bob.Decrypt(envelope.String(), session)
	req.NoError(err)
	req.Equal("Can you explain step 3?", got)

	fa, err := alice.Fingerprint(session)
	req.NoError(err)
	fb, err := bob.Fingerprint(session)
	req.NoError(err)
	req.Equal(fa, fb)
	req.Len(fa, 16)
}

func TestKeyStore_DeriveKey_SamePassphraseSameKey(t *testing.T) {
	req := require.New(t)
	alice := NewKeyStore()
	bob := NewKeyStore()
	req.NoError(alice.DeriveKey(session, "correct horse battery staple"))
	req.NoError(bob.DeriveKey(session, "correct horse battery staple"))

	envelope, err := alice.Encrypt("derived", session)
	req.NoError(err)
	got, err := bob.Decrypt(envelope.String(), session)
	req.NoError(err)
	req.Equal("derived", got)

	// Another session with the same passphrase gets another key
	other := domain.SessionID("s-99")
	req.NoError(bob.DeriveKey(other, "correct horse battery staple"))
	fa, _ := alice.Fingerprint(session)
	fo, _ := bob.Fingerprint(other)
	req.NotEqual(fa, fo)

	req.ErrorIs(alice.DeriveKey(session, ""), errors.ErrInvalidKey)
}

func TestPadding(t *testing.T) {
	req := require.New(t)
	padded := pad([]byte("abc"), 16)
	req.Len(padded, 16)
	got, ok := unpad(padded, 16)
	req.True(ok)
	req.Equal([]byte("abc"), got)

	full := pad(make([]byte, 16), 16)
	req.Len(full, 32)

	_, ok = unpad(append(make([]byte, 15), 0x00), 16)
	req.False(ok)
	_, ok = unpad(append(make([]byte, 15), 0x11), 16)
	req.False(ok)
}
