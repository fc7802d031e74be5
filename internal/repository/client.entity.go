package repository

import (
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
)

type ClientEntity struct {
	ID            int64      `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Name          string     `db:"name"            gorm:"column:name;not null"`
	Phone         string     `db:"phone"           gorm:"column:phone;not null;index"`
	VehicleMake   string     `db:"vehicle_make"    gorm:"column:vehicle_make"`
	VehicleModel  string     `db:"vehicle_model"   gorm:"column:vehicle_model"`
	Vehicle       string     `db:"vehicle"         gorm:"column:vehicle"`
	LastVisitDate *time.Time `db:"last_visit_date" gorm:"column:last_visit_date"`
	FacilityName  string     `db:"facility_name"   gorm:"column:facility_name"`
	CreatedAt     time.Time  `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (ClientEntity) TableName() string {
	return "clients"
}

func toClientEntity(c *model.Client) *ClientEntity {
	if c == nil {
		return nil
	}
	return &ClientEntity{
		ID:            c.ID,
		Name:          c.Name,
		Phone:         c.Phone,
		VehicleMake:   c.VehicleMake,
		VehicleModel:  c.VehicleModel,
		Vehicle:       c.Vehicle,
		LastVisitDate: c.LastVisitDate,
		FacilityName:  c.FacilityName,
		CreatedAt:     c.CreatedAt,
	}
}

func toClientModel(e *ClientEntity) *model.Client {
	if e == nil {
		return nil
	}
	return &model.Client{
		ID:            e.ID,
		Name:          e.Name,
		Phone:         e.Phone,
		VehicleMake:   e.VehicleMake,
		VehicleModel:  e.VehicleModel,
		Vehicle:       e.Vehicle,
		LastVisitDate: e.LastVisitDate,
		FacilityName:  e.FacilityName,
		CreatedAt:     e.CreatedAt,
	}
}

type FacilityEntity struct {
	ID               int64     `db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	Name             string    `db:"name"              gorm:"column:name;not null;uniqueIndex"`
	TemplateName     string    `db:"template_name"     gorm:"column:template_name"`
	TemplateLanguage string    `db:"template_language" gorm:"column:template_language"`
	Phone            string    `db:"phone"             gorm:"column:phone"`
	Address          string    `db:"address"           gorm:"column:address"`
	UpdatedAt        time.Time `db:"updated_at"        gorm:"column:updated_at;autoUpdateTime"`
}

func (FacilityEntity) TableName() string {
	return "facilities"
}

func toFacilityEntity(f *model.Facility) *FacilityEntity {
	return &FacilityEntity{
		ID:               f.ID,
		Name:             f.Name,
		TemplateName:     f.TemplateName,
		TemplateLanguage: f.TemplateLanguage,
		Phone:            f.Phone,
		Address:          f.Address,
	}
}

func toFacilityModel(e *FacilityEntity) *model.Facility {
	return &model.Facility{
		ID:               e.ID,
		Name:             e.Name,
		TemplateName:     e.TemplateName,
		TemplateLanguage: e.TemplateLanguage,
		Phone:            e.Phone,
		Address:          e.Address,
	}
}
