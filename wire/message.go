package wire

import (
	"collab-lab/domain"
	"time"

	"github.com/google/uuid"
)

// MessagePayload is the outbound chat payload. Camel case fields are the
// canonical shape; the snake case twins are read by the mobile client.
type MessagePayload struct {
	SessionID        string `json:"sessionId"`
	MessageID        string `json:"messageId"`
	SenderID         string `json:"senderId"`
	SenderName       string `json:"senderName"`
	EncryptedContent string `json:"encryptedContent"`
	MessageType      string `json:"messageType"`
	Timestamp        int64  `json:"timestamp"`

	ID                    string `json:"id"`
	SessionIDSnake        string `json:"session_id"`
	SenderIDSnake         string `json:"sender_id"`
	SenderNameSnake       string `json:"sender_name"`
	EncryptedContentSnake string `json:"encrypted_content"`
	MessageTypeSnake      string `json:"message_type"`
	CreatedAt             int64  `json:"created_at"`
}

func BuildOutboundMessage(msg domain.ChatMessage) MessagePayload {
	ts := msg.Timestamp.UnixMilli()
	messageType := string(msg.MessageType)
	if messageType == "" {
		messageType = string(domain.MessageTypeText)
	}
	return MessagePayload{
		SessionID:             msg.SessionID.String(),
		MessageID:             msg.ID,
		SenderID:              msg.SenderID,
		SenderName:            msg.SenderName,
		EncryptedContent:      msg.EncryptedContent,
		MessageType:           messageType,
		Timestamp:             ts,
		ID:                    msg.ID,
		SessionIDSnake:        msg.SessionID.String(),
		SenderIDSnake:         msg.SenderID,
		SenderNameSnake:       msg.SenderName,
		EncryptedContentSnake: msg.EncryptedContent,
		MessageTypeSnake:      messageType,
		CreatedAt:             ts,
	}
}

// NormalizeInboundMessage accepts a chat payload in either naming.
func NormalizeInboundMessage(raw []byte) (domain.ChatMessage, error) {
	f, err := decode(raw)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	ts, ok, err := f.time("created_at", "timestamp")
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if !ok {
		ts = time.Now().UTC()
	}

	id := f.first("messageId", "id")
	if id == "" {
		id = uuid.NewString()
	}

	messageType := domain.MessageType(f.first("message_type", "messageType"))
	if messageType == "" {
		messageType = domain.MessageTypeText
	}

	msg := domain.ChatMessage{
		ID:               id,
		SessionID:        domain.SessionID(f.first("session_id", "sessionId")),
		SenderID:         f.first("sender_id", "senderId"),
		SenderName:       f.first("sender_name", "senderName"),
		EncryptedContent: f.first("encrypted_content", "encryptedContent"),
		MessageType:      messageType,
		Timestamp:        ts,
	}
	if err := validate.Struct(msg); err != nil {
		return domain.ChatMessage{}, validationError(err)
	}
	return msg, nil
}
