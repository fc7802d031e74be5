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
	ErrClientNotFound = errors.New("client not found")
)

// ClientRepository reads client rows written by the import pipeline.
type ClientRepository struct {
	*pg.DB
}

func NewClientRepository(db *pg.DB) *ClientRepository {
	return &ClientRepository{
		db,
	}
}

func (r *ClientRepository) Create(ctx context.Context, c *model.Client) (*model.Client, error) {
	entity := toClientEntity(c)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toClientModel(entity), nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id int64) (*model.Client, error) {
	var entity ClientEntity
	err := r.Read(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return toClientModel(&entity), nil
}

// FindByPhone matches on the trailing national digits so that numbers
// stored with and without a country code are treated as the same client.
func (r *ClientRepository) FindByPhone(ctx context.Context, phone string) (*model.Client, error) {
	key := model.PhoneKey(phone)
	if key == "" {
		return nil, ErrClientNotFound
	}
	var entity ClientEntity
	err := r.Read(ctx).
		Where("phone = ? OR phone LIKE ?", phone, "%"+key).
		Order("id ASC").
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return toClientModel(&entity), nil
}

type FacilityRepository struct {
	*pg.DB
}

func NewFacilityRepository(db *pg.DB) *FacilityRepository {
	return &FacilityRepository{
		db,
	}
}

func (r *FacilityRepository) List(ctx context.Context) ([]*model.Facility, error) {
	var entities []*FacilityEntity
	if err := r.Read(ctx).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Facility, len(entities))
	for i, e := range entities {
		out[i] = toFacilityModel(e)
	}
	return out, nil
}

// Upsert inserts the facility or overwrites the row with the same name.
func (r *FacilityRepository) Upsert(ctx context.Context, f *model.Facility) error {
	entity := toFacilityEntity(f)
	return r.Write(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"template_name", "template_language", "phone", "address", "updated_at"}),
	}).Create(entity).Error
}
