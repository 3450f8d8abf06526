package store

import (
	"context"
	"errors"

	"github.com/ayusman/gasketvision/internal/inspection"
	"github.com/ayusman/gasketvision/pkg/geometry"
)

// TemplateSource exposes the selected template to the inspection pipeline.
func (s *Store) TemplateSource() inspection.TemplateSource {
	return templateSource{repo: s.Templates()}
}

// ReferenceSource exposes the saved fiducial reference to the inspection
// pipeline.
func (s *Store) ReferenceSource() inspection.ReferenceSource {
	return referenceSource{repo: s.References()}
}

type templateSource struct {
	repo *TemplateRepository
}

func (t templateSource) SelectedTemplate(context.Context) (*inspection.Template, error) {
	tpl, err := t.repo.Selected()
	if errors.Is(err, ErrNotFound) {
		return nil, inspection.ErrNoTemplate
	}
	if err != nil {
		return nil, err
	}
	return tpl.Inspection(), nil
}

// Inspection converts t to the pipeline's template.
func (t *Template) Inspection() *inspection.Template {
	return &inspection.Template{
		ID:                   t.ID,
		Name:                 t.Name,
		HoleCount:            t.HoleCount,
		ExpectedSeparationMM: t.ExpectedSeparationMM,
		Notches:              append([]geometry.Point2D(nil), t.Notches...),
	}
}

type referenceSource struct {
	repo *ReferenceRepository
}

func (r referenceSource) FiducialReference(context.Context) (*inspection.CalibrationFrame, error) {
	ref, err := r.repo.Get()
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	frame := ref.Frame
	return &frame, nil
}
