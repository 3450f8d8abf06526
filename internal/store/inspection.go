package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Inspection is one row of the inspection history.
type Inspection struct {
	ID           string          `json:"id"`
	TemplateID   string          `json:"template_id,omitempty"`
	TemplateName string          `json:"template_name"`
	Success      bool            `json:"success"`
	Attempts     int             `json:"attempts"`
	Reason       string          `json:"reason,omitempty"`
	EarlyExit    string          `json:"early_exit,omitempty"`
	DistanceMM   *float64        `json:"distance_mm,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// InspectionRepository stores the inspection history.
type InspectionRepository struct {
	db *sql.DB
}

// Inspections returns the inspection repository for this store.
func (s *Store) Inspections() *InspectionRepository {
	return &InspectionRepository{db: s.db}
}

const inspectionColumns = `id, template_id, template_name, success, attempts, reason, early_exit, distance_mm, data, created_at`

// Create inserts a history row. An empty ID is generated.
func (r *InspectionRepository) Create(in *Inspection) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.CreatedAt = time.Now()
	data := in.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	_, err := r.db.Exec(
		`INSERT INTO inspections (`+inspectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, nullString(in.TemplateID), in.TemplateName, in.Success, in.Attempts,
		in.Reason, in.EarlyExit, in.DistanceMM, string(data), in.CreatedAt,
	)
	return err
}

// Get retrieves a history row by ID.
func (r *InspectionRepository) Get(id string) (*Inspection, error) {
	in, err := scanInspection(r.db.QueryRow(`SELECT `+inspectionColumns+` FROM inspections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return in, err
}

// List returns the most recent rows first. limit <= 0 returns all rows.
func (r *InspectionRepository) List(limit int) ([]*Inspection, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+inspectionColumns+` FROM inspections ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Inspection
	for rows.Next() {
		in, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanInspection(row interface{ Scan(...any) error }) (*Inspection, error) {
	in := &Inspection{}
	var templateID sql.NullString
	var distance sql.NullFloat64
	var data string
	err := row.Scan(&in.ID, &templateID, &in.TemplateName, &in.Success, &in.Attempts,
		&in.Reason, &in.EarlyExit, &distance, &data, &in.CreatedAt)
	if err != nil {
		return nil, err
	}
	in.TemplateID = templateID.String
	if distance.Valid {
		d := distance.Float64
		in.DistanceMM = &d
	}
	in.Data = json.RawMessage(data)
	return in, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
