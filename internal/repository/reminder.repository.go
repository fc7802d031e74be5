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
	ErrReminderNotFound = errors.New("reminder not found")
)

type ReminderRepository struct {
	*pg.DB
}

func NewReminderRepository(db *pg.DB) *ReminderRepository {
	return &ReminderRepository{
		db,
	}
}

func (r *ReminderRepository) Create(ctx context.Context, m *model.Reminder) (*model.Reminder, error) {
	if !m.Status.Valid() {
		return nil, model.ErrInvalidReminderStatus
	}
	entity := toReminderEntity(m)
	if entity.StatusChangedAt.IsZero() {
		entity.StatusChangedAt = time.Now().UTC()
	}
	if err := r.Write(ctx).Omit(clause.Associations).Create(entity).Error; err != nil {
		return nil, err
	}
	return toReminderModel(entity), nil
}

func (r *ReminderRepository) GetByID(ctx context.Context, id int64) (*model.Reminder, error) {
	var entity ReminderEntity
	err := r.Read(ctx).Preload("Client").First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		return nil, err
	}
	return toReminderModel(&entity), nil
}

func (r *ReminderRepository) List(ctx context.Context, f model.ReminderFilter) ([]*model.Reminder, int64, error) {
	q := r.Read(ctx).Model(&ReminderEntity{})

	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}
	if f.Facility != nil && *f.Facility != "" {
		q = q.Where("facility_name = ?", *f.Facility)
	}
	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
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

	var entities []*ReminderEntity
	if err := q.Preload("Client").Order("id ASC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	return toReminderModels(entities), total, nil
}

// ListForUrgency returns every reminder outside the final statuses plus the
// confirmations made since confirmedSince. An empty facility means all.
func (r *ReminderRepository) ListForUrgency(ctx context.Context, facility string, confirmedSince time.Time) ([]*model.Reminder, error) {
	q := r.Read(ctx).Model(&ReminderEntity{}).
		Where("(status NOT IN ? OR (status = ? AND status_changed_at >= ?))",
			statusStrings(model.FinalReminderStatuses),
			string(model.ReminderStatusAppointmentConfirmed),
			confirmedSince)
	if facility != "" {
		q = q.Where("facility_name = ?", facility)
	}

	var entities []*ReminderEntity
	if err := q.Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toReminderModels(entities), nil
}

// RecordSend stores a successful gateway send.
func (r *ReminderRepository) RecordSend(ctx context.Context, id int64, status model.ReminderStatus, providerMessageID string, at time.Time) error {
	res := r.Write(ctx).Model(&ReminderEntity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            string(status),
			"status_changed_at": at,
			"last_send_marker":  providerMessageID,
			"last_send_at":      at,
			"last_error":        nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReminderNotFound
	}
	return nil
}

// RecordFailure marks the reminder failed and keeps the provider error text as is.
func (r *ReminderRepository) RecordFailure(ctx context.Context, id int64, errText string, at time.Time) error {
	res := r.Write(ctx).Model(&ReminderEntity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            string(model.ReminderStatusFailed),
			"status_changed_at": at,
			"last_error":        errText,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReminderNotFound
	}
	return nil
}

// RecordReply moves the client's reminders that may still take the reply into
// status and stamps the response time. It returns the number of reminders moved.
func (r *ReminderRepository) RecordReply(ctx context.Context, clientID int64, status model.ReminderStatus, at time.Time) (int64, error) {
	from := model.ReplyTransitionFrom(status)
	if len(from) == 0 {
		return 0, nil
	}
	res := r.Write(ctx).Model(&ReminderEntity{}).
		Where("client_id = ? AND status IN ?", clientID, statusStrings(from)).
		Updates(map[string]any{
			"status":               string(status),
			"status_changed_at":    at,
			"response_received_at": at,
		})
	return res.RowsAffected, res.Error
}

// UpdateStatus is the manual operator transition.
func (r *ReminderRepository) UpdateStatus(ctx context.Context, id int64, status model.ReminderStatus, at time.Time) error {
	if !status.Valid() {
		return model.ErrInvalidReminderStatus
	}
	res := r.Write(ctx).Model(&ReminderEntity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            string(status),
			"status_changed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (r *ReminderRepository) AddNote(ctx context.Context, reminderID int64, body string) (*model.ReminderNote, error) {
	entity := &ReminderNoteEntity{ReminderID: reminderID, Body: body}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toReminderNoteModel(entity), nil
}

func (r *ReminderRepository) ListNotes(ctx context.Context, reminderID int64) ([]*model.ReminderNote, error) {
	var entities []*ReminderNoteEntity
	if err := r.Read(ctx).Where("reminder_id = ?", reminderID).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	out := make([]*model.ReminderNote, len(entities))
	for i, e := range entities {
		out[i] = toReminderNoteModel(e)
	}
	return out, nil
}

func statusStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
