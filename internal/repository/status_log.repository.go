package repository

import (
	"context"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/pkg/pg"
)

// StatusLogRepository is the append-only store of raw delivery callbacks.
// It has no update or delete path other than Claim.
type StatusLogRepository struct {
	*pg.DB
}

func NewStatusLogRepository(db *pg.DB) *StatusLogRepository {
	return &StatusLogRepository{
		db,
	}
}

func (r *StatusLogRepository) Append(ctx context.Context, entry *model.StatusLogEntry) (*model.StatusLogEntry, error) {
	entity := toStatusLogEntity(entry)
	entity.ID = 0
	entity.Processed = false
	entity.ProcessedAt = nil
	entity.MessageID = nil

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toStatusLogModel(entity), nil
}

// ListUnprocessed returns the open entries for one provider id in arrival order.
func (r *StatusLogRepository) ListUnprocessed(ctx context.Context, providerMessageID string) ([]*model.StatusLogEntry, error) {
	var entities []*StatusLogEntity
	err := r.Read(ctx).
		Where("provider_message_id = ? AND processed = ?", providerMessageID, false).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toStatusLogModels(entities), nil
}

// ListStaleProviderIDs returns provider ids that still have unprocessed entries
// created before the cutoff, oldest first.
func (r *StatusLogRepository) ListStaleProviderIDs(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := r.Read(ctx).Model(&StatusLogEntity{}).
		Select("provider_message_id").
		Where("processed = ? AND created_at < ?", false, before).
		Group("provider_message_id").
		Order("MIN(id) ASC").
		Limit(limit).
		Pluck("provider_message_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *StatusLogRepository) CountUnprocessed(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.Read(ctx).Model(&StatusLogEntity{}).
		Where("processed = ? AND created_at < ?", false, before).
		Count(&n).Error
	return n, err
}

// Claim marks one entry processed. It returns false when another reconciler
// got there first.
func (r *StatusLogRepository) Claim(ctx context.Context, id, messageID int64, at time.Time) (bool, error) {
	res := r.Write(ctx).Model(&StatusLogEntity{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": at,
			"message_id":   messageID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *StatusLogRepository) ListByProviderID(ctx context.Context, providerMessageID string) ([]*model.StatusLogEntry, error) {
	var entities []*StatusLogEntity
	err := r.Read(ctx).
		Where("provider_message_id = ?", providerMessageID).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toStatusLogModels(entities), nil
}
