package model

import "time"

// Client rows come from the import pipeline already normalized.
type Client struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	VehicleMake   string     `json:"vehicle_make,omitempty"`
	VehicleModel  string     `json:"vehicle_model,omitempty"`
	Vehicle       string     `json:"vehicle,omitempty"`
	LastVisitDate *time.Time `json:"last_visit_date,omitempty"`
	FacilityName  string     `json:"facility_name,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Facility struct {
	ID               int64  `json:"id"               yaml:"-"`
	Name             string `json:"name"             yaml:"name"`
	TemplateName     string `json:"template_name"    yaml:"template"`
	TemplateLanguage string `json:"template_language" yaml:"language"`
	Phone            string `json:"phone"            yaml:"phone"`
	Address          string `json:"address"          yaml:"address"`
}
