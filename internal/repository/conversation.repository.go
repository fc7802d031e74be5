package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
)

type ConversationRepository struct {
	*pg.DB
}

func NewConversationRepository(db *pg.DB) *ConversationRepository {
	return &ConversationRepository{
		db,
	}
}

// FindOrCreate returns the conversation for a normalized phone, creating it
// when missing. Concurrent callers for the same phone end up on the same row.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, phone string, clientID *int64) (*model.Conversation, error) {
	entity := &ConversationEntity{
		Phone:    phone,
		ClientID: clientID,
		Status:   string(model.ConversationStatusOpen),
	}
	err := r.Write(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoNothing: true,
	}).Create(entity).Error
	if err != nil {
		return nil, err
	}

	var existing ConversationEntity
	if err := r.Write(ctx).First(&existing, "phone = ?", phone).Error; err != nil {
		return nil, err
	}
	if existing.ClientID == nil && clientID != nil {
		if err := r.Write(ctx).Model(&existing).Update("client_id", *clientID).Error; err != nil {
			return nil, err
		}
		existing.ClientID = clientID
	}
	return toConversationModel(&existing), nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	var entity ConversationEntity
	err := r.Read(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return toConversationModel(&entity), nil
}

func (r *ConversationRepository) GetByPhone(ctx context.Context, phone string) (*model.Conversation, error) {
	var entity ConversationEntity
	err := r.Read(ctx).First(&entity, "phone = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return toConversationModel(&entity), nil
}

func (r *ConversationRepository) List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error) {
	q := r.Read(ctx).Model(&ConversationEntity{})
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	if f.UnreadOnly {
		q = q.Where("unread_count > 0")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*ConversationEntity
	if err := q.Order("last_message_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*model.Conversation, len(entities))
	for i, e := range entities {
		out[i] = toConversationModel(e)
	}
	return out, total, nil
}

// TouchInbound bumps the unread counter and reopens the conversation.
func (r *ConversationRepository) TouchInbound(ctx context.Context, id int64, at time.Time) error {
	return r.Write(ctx).Model(&ConversationEntity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"unread_count":    gorm.Expr("unread_count + 1"),
			"last_message_at": at,
			"status":          string(model.ConversationStatusOpen),
		}).Error
}

func (r *ConversationRepository) TouchOutbound(ctx context.Context, id int64, at time.Time) error {
	return r.Write(ctx).Model(&ConversationEntity{}).
		Where("id = ?", id).
		Update("last_message_at", at).Error
}

func (r *ConversationRepository) MarkRead(ctx context.Context, id int64) error {
	res := r.Write(ctx).Model(&ConversationEntity{}).
		Where("id = ?", id).
		Update("unread_count", 0)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}
