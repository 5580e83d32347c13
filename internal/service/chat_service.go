// Package service provides the chat subsystem's business logic.
package service

import (
	"context"
	"time"

	"marketchat/internal/models"
	"marketchat/internal/observability"
	"marketchat/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const maxMessageContentLen = 10000 // 10K characters

// ChatService provides message and conversation business logic.
type ChatService struct {
	store    repository.MessageStore
	profiles repository.ProfileStore
}

// NewChatService returns a new ChatService.
func NewChatService(store repository.MessageStore, profiles repository.ProfileStore) *ChatService {
	return &ChatService{store: store, profiles: profiles}
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	SenderID   string
	ReceiverID string
	Content    string
}

// Send validates, stamps, and persists a new message. The ID and timestamp
// are always server-assigned.
func (s *ChatService) Send(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	span, ctx := observability.NewSpan(ctx, "chat.send")
	defer span.End()
	span.AddAttributes(
		attribute.String("chat.sender_id", in.SenderID),
		attribute.String("chat.receiver_id", in.ReceiverID),
	)

	if in.SenderID == "" || in.ReceiverID == "" {
		return nil, models.NewValidationError("Sender and receiver are required")
	}
	if in.SenderID == in.ReceiverID {
		return nil, models.NewValidationError("Cannot send a message to yourself")
	}
	if in.Content == "" {
		return nil, models.NewValidationError("Message content is required")
	}
	if len(in.Content) > maxMessageContentLen {
		return nil, models.NewValidationError("Message content too long (max 10000 characters)")
	}

	message := &models.Message{
		ID:         uuid.NewString(),
		Content:    in.Content,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Time:       time.Now().UTC(),
	}
	if err := s.store.Create(ctx, message); err != nil {
		span.SetError(err)
		return nil, err
	}
	return message, nil
}

// History returns the persisted messages between the viewer and the partner,
// ascending by time, together with the partner's profile when resolvable.
// The pair is unordered: History(a, b) and History(b, a) agree on messages.
func (s *ChatService) History(ctx context.Context, viewerID, partnerID string) (*models.History, error) {
	span, ctx := observability.NewSpan(ctx, "chat.history")
	defer span.End()
	span.AddAttributes(
		attribute.String("chat.viewer_id", viewerID),
		attribute.String("chat.partner_id", partnerID),
	)

	messages, err := s.store.Between(ctx, viewerID, partnerID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if messages == nil {
		messages = []models.Message{}
	}

	history := &models.History{Messages: messages}
	if profile, perr := s.profiles.Profile(ctx, partnerID); perr == nil {
		history.Partner = profile
	}
	return history, nil
}

// Conversations returns the viewer's inbox entries with partner profiles
// attached where available.
func (s *ChatService) Conversations(ctx context.Context, viewerID string) ([]models.Conversation, error) {
	span, ctx := observability.NewSpan(ctx, "chat.conversations")
	defer span.End()
	span.AddAttributes(attribute.String("chat.viewer_id", viewerID))

	entries, err := s.store.Conversations(ctx, viewerID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	for i := range entries {
		if profile, perr := s.profiles.Profile(ctx, entries[i].UserID); perr == nil {
			entries[i].User = profile
		}
	}
	return entries, nil
}

// MarkAllRead flags every message from senderID to readerID as read and
// reports how many messages changed state.
func (s *ChatService) MarkAllRead(ctx context.Context, readerID, senderID string) (int64, error) {
	return s.store.MarkAllRead(ctx, readerID, senderID)
}

// MarkDelivered records the delivery acknowledgement for a single message.
func (s *ChatService) MarkDelivered(ctx context.Context, messageID string) error {
	return s.store.MarkDelivered(ctx, messageID)
}

// DeleteConversation removes the whole message set of the (viewer, partner)
// pair. Individual messages are never deleted on their own.
func (s *ChatService) DeleteConversation(ctx context.Context, viewerID, partnerID string) error {
	if viewerID == "" || partnerID == "" {
		return models.NewValidationError("Both participants are required")
	}
	return s.store.DeleteConversation(ctx, viewerID, partnerID)
}
