package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayusman/gasketvision/internal/inspection"
)

const fiducialReferenceKey = "fiducial_reference"

// Reference is a fiducial calibration saved for reuse across inspections,
// for cells where the marker is covered by the part.
type Reference struct {
	Frame      inspection.CalibrationFrame `json:"frame"`
	CapturedAt time.Time                   `json:"captured_at"`
}

// ReferenceRepository stores the single fiducial reference.
type ReferenceRepository struct {
	s *Store
}

// References returns the reference repository for this store.
func (s *Store) References() *ReferenceRepository {
	return &ReferenceRepository{s: s}
}

// Save replaces the stored reference.
func (r *ReferenceRepository) Save(frame inspection.CalibrationFrame) (*Reference, error) {
	frame.FromReference = false
	ref := &Reference{Frame: frame, CapturedAt: time.Now().UTC()}
	data, err := json.Marshal(ref)
	if err != nil {
		return nil, err
	}
	if err := r.s.setSetting(fiducialReferenceKey, string(data)); err != nil {
		return nil, err
	}
	return ref, nil
}

// Get returns the stored reference or ErrNotFound.
func (r *ReferenceRepository) Get() (*Reference, error) {
	raw, err := r.s.getSetting(fiducialReferenceKey)
	if err != nil {
		return nil, err
	}
	var ref Reference
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return nil, fmt.Errorf("decoding fiducial reference: %w", err)
	}
	return &ref, nil
}

// Clear removes the stored reference.
func (r *ReferenceRepository) Clear() error {
	return r.s.deleteSetting(fiducialReferenceKey)
}
