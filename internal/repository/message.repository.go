package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMessageNotFound is returned when a message does not exist.
	ErrMessageNotFound = errors.New("message not found")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

// Create inserts the message. A message whose provider id is already stored
// is not inserted again; inserted reports which case happened.
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	entity := toMessageEntity(msg)

	res := r.Write(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_message_id"}},
		DoNothing: true,
	}).Create(entity)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	return toMessageModel(entity), true, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return toMessageModel(&entity), nil
}

func (r *MessageRepository) GetByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).First(&entity, "provider_message_id = ?", providerMessageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return toMessageModel(&entity), nil
}

func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	q := r.Read(ctx).Model(&MessageEntity{})

	if f.ConversationID != nil {
		q = q.Where("conversation_id = ?", *f.ConversationID)
	}
	if f.Direction != nil {
		q = q.Where("direction = ?", string(*f.Direction))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "id"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*MessageEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toMessageModels(entities), total, nil
}

// ApplyStatus moves an outbound message to status only when its current status
// ranks strictly lower. Equal or lower incoming statuses change nothing.
func (r *MessageRepository) ApplyStatus(ctx context.Context, id int64, status model.MessageStatus) (bool, error) {
	lower := status.Below()
	if len(lower) == 0 {
		return false, nil
	}
	res := r.Write(ctx).Model(&MessageEntity{}).
		Where("id = ? AND direction = ? AND status IN ?", id, string(model.MessageDirectionOutbound), statusStrings(lower)).
		Update("status", string(status))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *MessageRepository) SetError(ctx context.Context, id int64, errText string) error {
	return r.Write(ctx).Model(&MessageEntity{}).
		Where("id = ?", id).
		Update("error", errText).Error
}
