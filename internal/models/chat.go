// Package models contains data structures for the chat domain.
package models

import (
	"time"
)

// Message is a single chat message between two users. The JSON field names
// are the wire contract shared with the widget and must not change.
type Message struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	SenderID   string    `gorm:"not null;index:idx_messages_sender" json:"senderId"`
	ReceiverID string    `gorm:"not null;index:idx_messages_receiver" json:"receiverId"`
	Time       time.Time `gorm:"index;not null" json:"time"`
	Delivered  bool      `gorm:"default:false" json:"delivered"`
	Read       bool      `gorm:"default:false" json:"read"`
}

// Between reports whether the message belongs to the conversation formed by
// the unordered pair (userA, userB).
func (m Message) Between(userA, userB string) bool {
	return (m.SenderID == userA && m.ReceiverID == userB) ||
		(m.SenderID == userB && m.ReceiverID == userA)
}

// Counterpart returns the other participant relative to viewerID, or "" when
// the viewer is not a participant.
func (m Message) Counterpart(viewerID string) string {
	switch viewerID {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	}
	return ""
}

// Profile is the display profile of a chat participant. Profiles are owned by
// the marketplace's user service; the chat subsystem only reads them.
type Profile struct {
	ID             string `gorm:"primaryKey" json:"id"`
	Names          string `json:"names"`
	Surnames       string `json:"surnames"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// TableName maps Profile onto the marketplace's users table.
func (Profile) TableName() string { return "users" }

// Conversation is a derived inbox entry: one row per distinct counterpart of
// the viewer. It is recomputed from the message set, never stored.
type Conversation struct {
	UserID       string    `json:"userId"`
	LastMessage  string    `json:"lastMessage"`
	LastSenderID string    `json:"lastSenderId,omitempty"`
	Time         time.Time `json:"time"`
	Read         bool      `json:"read"`
	Unread       int       `json:"unread"`
	User         *Profile  `json:"user,omitempty"`
}

// History is the response shape for a conversation's persisted messages.
// Partner may be nil when the counterpart's profile cannot be resolved.
type History struct {
	Partner  *Profile  `json:"partner,omitempty"`
	Messages []Message `json:"messages"`
}
