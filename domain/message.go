// Package domain contains core concepts of the collaboration core.
// This file defines chat messages and related rules.
// Messages are immutable once created by the sender.
package domain

import (
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// UndecryptablePlaceholder is shown instead of the plaintext when a
// received envelope cannot be opened with the session key.
const UndecryptablePlaceholder = "[unable to decrypt this message]"

// ChatMessage represents an immutable chat event as it travels on the wire.
// EncryptedContent holds the envelope in its "iv:ciphertext" wire form.
type ChatMessage struct {
	ID               string    `validate:"required"`
	SessionID        SessionID `validate:"required"`
	SenderID         string    `validate:"required"`
	SenderName       string
	EncryptedContent string      `validate:"required"`
	MessageType      MessageType `validate:"oneof=text system"`
	Timestamp        time.Time
}

// DecryptedMessage is what the UI layer renders.
type DecryptedMessage struct {
	ChatMessage
	Plaintext     string
	Undecryptable bool
}

// Text returns the plaintext or the placeholder for undecryptable messages.
func (m DecryptedMessage) Text() string {
	if m.Undecryptable {
		return UndecryptablePlaceholder
	}
	return m.Plaintext
}
