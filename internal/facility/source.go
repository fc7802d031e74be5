package facility

import (
	"context"
	"fmt"
	"os"

	"github.com/nimasrn/visit-reminders/internal/model"
	"gopkg.in/yaml.v3"
)

// FacilityLister is the storage side of the table.
type FacilityLister interface {
	List(ctx context.Context) ([]*model.Facility, error)
}

// RepositorySource loads the table from the facilities table.
type RepositorySource struct {
	Repo FacilityLister
}

func (s RepositorySource) Load(ctx context.Context) ([]*model.Facility, error) {
	return s.Repo.List(ctx)
}

type seedFile struct {
	Facilities []*model.Facility `yaml:"facilities"`
}

// FileSource reads a YAML seed file of the form
//
//	facilities:
//	  - name: Lisboa Centro
//	    template: visit_reminder
//	    language: pt_PT
//	    phone: "213000000"
type FileSource struct {
	Path string
}

func (s FileSource) Load(_ context.Context) ([]*model.Facility, error) {
	return LoadFile(s.Path)
}

func LoadFile(path string) ([]*model.Facility, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facility file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]*model.Facility, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse facility file: %w", err)
	}
	for i, fac := range f.Facilities {
		if fac == nil || fac.Name == "" {
			return nil, fmt.Errorf("facility %d: name is required", i)
		}
	}
	return f.Facilities, nil
}

// FallbackSource tries each source in order until one returns facilities.
type FallbackSource []Source

func (s FallbackSource) Load(ctx context.Context) ([]*model.Facility, error) {
	var lastErr error
	for _, src := range s {
		list, err := src.Load(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if len(list) > 0 {
			return list, nil
		}
	}
	return nil, lastErr
}
