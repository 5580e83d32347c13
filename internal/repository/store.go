// Package repository provides persistence for chat messages and read-only
// access to participant profiles.
package repository

import (
	"context"
	"sort"

	"marketchat/internal/models"
)

// MessageStore defines the interface for message data operations. The two
// participant IDs of a conversation are always an unordered pair: every
// implementation must return the same result for (a, b) and (b, a).
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	Between(ctx context.Context, userA, userB string) ([]models.Message, error)
	MarkDelivered(ctx context.Context, messageID string) error
	// MarkAllRead flags every message sent by senderID to readerID as read
	// (and delivered) and reports how many rows changed.
	MarkAllRead(ctx context.Context, readerID, senderID string) (int64, error)
	Conversations(ctx context.Context, viewerID string) ([]models.Conversation, error)
	DeleteConversation(ctx context.Context, userA, userB string) error
}

// ProfileStore resolves participant display profiles. Profiles belong to the
// marketplace's user service; a missing profile is not an error here.
type ProfileStore interface {
	Profile(ctx context.Context, userID string) (*models.Profile, error)
}

// aggregateConversations derives one inbox entry per counterpart from the
// viewer's messages, ordered most-recent first. msgs must be ascending by
// time, which both store implementations guarantee.
func aggregateConversations(viewerID string, msgs []models.Message) []models.Conversation {
	byPartner := make(map[string]*models.Conversation)
	for _, m := range msgs {
		partner := m.Counterpart(viewerID)
		if partner == "" {
			continue
		}
		entry, ok := byPartner[partner]
		if !ok {
			entry = &models.Conversation{UserID: partner}
			byPartner[partner] = entry
		}
		entry.LastMessage = m.Content
		entry.LastSenderID = m.SenderID
		entry.Time = m.Time
		entry.Read = m.Read || m.SenderID == viewerID
		if m.ReceiverID == viewerID && !m.Read {
			entry.Unread++
		}
	}

	out := make([]models.Conversation, 0, len(byPartner))
	for _, entry := range byPartner {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out
}
