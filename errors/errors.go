package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// Key manager
	ErrKeyNotFound       = fmt.Errorf("no session key installed")
	ErrInvalidKey        = fmt.Errorf("session key must be a base64 encoded 256-bit key")
	ErrMalformedEnvelope = fmt.Errorf("envelope is not a valid iv:ciphertext pair")
	ErrDecryptionFailed  = fmt.Errorf("decryption failed")

	// Wire and transport
	ErrMalformedWirePayload = fmt.Errorf("malformed wire payload")
	ErrChannelError         = fmt.Errorf("channel is not subscribed")
	ErrChannelClosed        = fmt.Errorf("channel is closed")
	ErrUnauthorized         = fmt.Errorf("unauthorized")

	// Facade
	ErrEmptyMessage   = fmt.Errorf("message is empty")
	ErrMessageTooLong = fmt.Errorf("message exceeds the maximum content length")
	ErrSessionLeft    = fmt.Errorf("session has been left")
)
