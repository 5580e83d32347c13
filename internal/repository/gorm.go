package repository

import (
	"context"
	"errors"

	"marketchat/internal/models"
	"marketchat/internal/observability"

	"gorm.io/gorm"
)

// gormMessageStore implements MessageStore on Postgres via GORM.
type gormMessageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a GORM-backed message store.
func NewMessageStore(db *gorm.DB) MessageStore {
	return &gormMessageStore{db: db}
}

func (r *gormMessageStore) Create(ctx context.Context, msg *models.Message) error {
	defer observability.TrackQuery("create", "messages")()
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *gormMessageStore) Between(ctx context.Context, userA, userB string) ([]models.Message, error) {
	defer observability.TrackQuery("between", "messages")()
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where(
			"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA,
		).
		Order("time ASC").
		Find(&messages).Error
	return messages, err
}

func (r *gormMessageStore) MarkDelivered(ctx context.Context, messageID string) error {
	defer observability.TrackQuery("mark_delivered", "messages")()
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Update("delivered", true).Error
}

func (r *gormMessageStore) MarkAllRead(ctx context.Context, readerID, senderID string) (int64, error) {
	defer observability.TrackQuery("mark_all_read", "messages")()
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND read = ?", senderID, readerID, false).
		Updates(map[string]interface{}{"read": true, "delivered": true})
	return res.RowsAffected, res.Error
}

func (r *gormMessageStore) Conversations(ctx context.Context, viewerID string) ([]models.Conversation, error) {
	defer observability.TrackQuery("conversations", "messages")()
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", viewerID, viewerID).
		Order("time ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return aggregateConversations(viewerID, messages), nil
}

func (r *gormMessageStore) DeleteConversation(ctx context.Context, userA, userB string) error {
	defer observability.TrackQuery("delete_conversation", "messages")()
	return r.db.WithContext(ctx).
		Where(
			"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA,
		).
		Delete(&models.Message{}).Error
}

// gormProfileStore reads participant profiles from the marketplace's users
// table.
type gormProfileStore struct {
	db *gorm.DB
}

// NewProfileStore creates a GORM-backed profile store.
func NewProfileStore(db *gorm.DB) ProfileStore {
	return &gormProfileStore{db: db}
}

func (r *gormProfileStore) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).First(&profile, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
