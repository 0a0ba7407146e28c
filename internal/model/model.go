package model

import "time"

// Participant is the other party in a conversation, with the presence
// snapshot embedded in the conversation-list payload.
type Participant struct {
	ID       string     `json:"id"`
	Name     string     `json:"name,omitempty"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Message is a single chat message. ID is assigned by the server and is
// the deduplication key. Pending is client-side only: true from the moment
// the composer inserts the message until the server confirms the send.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `json:"is_read"`
	Pending        bool      `json:"-"`
}

// Conversation is one thread between the current user and a counterpart,
// optionally about a property listing.
type Conversation struct {
	ID          string      `json:"id"`
	Counterpart Participant `json:"counterpart"`
	ListingID   string      `json:"listing_id,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
	UnreadCount int         `json:"unread_count"`
	LastMessage *Message    `json:"last_message,omitempty"`
}
