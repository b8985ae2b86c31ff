package domain

import (
	"collab-lab/errors"
	"encoding/base64"
	"fmt"
	"strings"
)

// IVSize is the AES block size used as IV length on the wire.
const IVSize = 16

// EncryptedEnvelope is one encrypted chat payload.
// On the wire it is "<iv-b64>:<ciphertext-b64>", a shape both clients parse
// without sharing a serialization library.
type EncryptedEnvelope struct {
	IV         []byte
	Ciphertext []byte
}

func (e EncryptedEnvelope) String() string {
	return base64.StdEncoding.EncodeToString(e.IV) + ":" +
		base64.StdEncoding.EncodeToString(e.Ciphertext)
}

// ParseEnvelope splits a wire string into its IV and ciphertext.
// Both segments must be non-empty Base64 and the IV must be IVSize bytes.
func ParseEnvelope(wire string) (EncryptedEnvelope, error) {
	parts := strings.Split(wire, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return EncryptedEnvelope{}, errors.ErrMalformedEnvelope
	}
	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return EncryptedEnvelope{}, fmt.Errorf("%w: iv: %v", errors.ErrMalformedEnvelope, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return EncryptedEnvelope{}, fmt.Errorf("%w: ciphertext: %v", errors.ErrMalformedEnvelope, err)
	}
	if len(iv) != IVSize || len(ciphertext) == 0 {
		return EncryptedEnvelope{}, errors.ErrMalformedEnvelope
	}
	return EncryptedEnvelope{IV: iv, Ciphertext: ciphertext}, nil
}
