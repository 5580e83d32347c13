package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/models"
)

func seedMessage(t *testing.T, s *MemoryStore, id, sender, receiver, content string, at time.Time, read bool) {
	t.Helper()
	err := s.Create(context.Background(), &models.Message{
		ID:         id,
		Content:    content,
		SenderID:   sender,
		ReceiverID: receiver,
		Time:       at,
		Read:       read,
		Delivered:  read,
	})
	require.NoError(t, err)
}

func TestMemoryStore_BetweenIsUnordered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedMessage(t, s, "m1", "a", "b", "hi", base, false)
	seedMessage(t, s, "m2", "b", "a", "hey", base.Add(time.Minute), false)
	seedMessage(t, s, "m3", "a", "c", "other pair", base.Add(2*time.Minute), false)

	ab, err := s.Between(ctx, "a", "b")
	require.NoError(t, err)
	ba, err := s.Between(ctx, "b", "a")
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	require.Len(t, ab, 2)
	assert.Equal(t, "m1", ab[0].ID, "ascending by time")
}

func TestMemoryStore_MarkAllRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedMessage(t, s, "m1", "sender", "reader", "one", base, false)
	seedMessage(t, s, "m2", "sender", "reader", "two", base.Add(time.Minute), false)
	seedMessage(t, s, "m3", "reader", "sender", "reply", base.Add(2*time.Minute), false)

	changed, err := s.MarkAllRead(ctx, "reader", "sender")
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	msgs, err := s.Between(ctx, "reader", "sender")
	require.NoError(t, err)
	for _, m := range msgs {
		if m.ReceiverID == "reader" {
			assert.True(t, m.Read)
			assert.True(t, m.Delivered, "read implies delivered")
		} else {
			assert.False(t, m.Read, "the reader's own messages stay untouched")
		}
	}

	// second pass changes nothing
	changed, err = s.MarkAllRead(ctx, "reader", "sender")
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestMemoryStore_ConversationsAggregation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedMessage(t, s, "m1", "p1", "me", "first", base, true)
	seedMessage(t, s, "m2", "p1", "me", "second", base.Add(time.Minute), false)
	seedMessage(t, s, "m3", "p1", "me", "third", base.Add(2*time.Minute), false)
	seedMessage(t, s, "m4", "me", "p2", "sent out", base.Add(3*time.Minute), false)

	convs, err := s.Conversations(ctx, "me")
	require.NoError(t, err)
	require.Len(t, convs, 2)

	// most recent conversation first
	assert.Equal(t, "p2", convs[0].UserID)
	assert.True(t, convs[0].Read, "own last message counts as read")
	assert.Zero(t, convs[0].Unread)

	assert.Equal(t, "p1", convs[1].UserID)
	assert.Equal(t, "third", convs[1].LastMessage)
	assert.Equal(t, "p1", convs[1].LastSenderID)
	assert.Equal(t, 2, convs[1].Unread)
	assert.False(t, convs[1].Read)
}

func TestMemoryStore_ConversationsEmptyViewer(t *testing.T) {
	s := NewMemoryStore()
	convs, err := s.Conversations(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestMemoryStore_DeleteConversationRemovesWholePair(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedMessage(t, s, "m1", "a", "b", "hi", base, false)
	seedMessage(t, s, "m2", "b", "a", "hey", base.Add(time.Minute), false)
	seedMessage(t, s, "m3", "a", "c", "keep me", base.Add(2*time.Minute), false)

	require.NoError(t, s.DeleteConversation(ctx, "b", "a"))

	ab, err := s.Between(ctx, "a", "b")
	require.NoError(t, err)
	assert.Empty(t, ab)

	ac, err := s.Between(ctx, "a", "c")
	require.NoError(t, err)
	assert.Len(t, ac, 1)
}

func TestMemoryStore_ProfileLookup(t *testing.T) {
	s := NewMemoryStore()
	s.SeedProfile(models.Profile{ID: "u1", Names: "Ada"})

	p, err := s.Profile(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Ada", p.Names)

	missing, err := s.Profile(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing, "a missing profile is not an error")
}
