package channel

import (
	"encoding/json"
	"time"

	"github.com/havenhomes/chat-client/internal/model"
)

// Server-pushed event types.
const (
	EventNewMessage        = "new-message"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventUserStatusChange  = "user-status-change"
)

// Client-emitted command types.
const (
	cmdJoinConversation  = "join-conversation"
	cmdLeaveConversation = "leave-conversation"
	cmdTypingStart       = "typing-start"
	cmdTypingStop        = "typing-stop"
)

// Envelope is the wire format for channel events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type NewMessagePayload struct {
	ConversationID string        `json:"conversation_id"`
	Message        model.Message `json:"message"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type StatusChangePayload struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type command struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type conversationRef struct {
	ConversationID string `json:"conversation_id"`
}
