package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/gasketvision/pkg/geometry"
)

// ErrDuplicateName is returned when a template name is already taken.
var ErrDuplicateName = errors.New("template name already exists")

const selectedTemplateKey = "selected_template"

// Template is a gasket part description.
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HoleCount int    `json:"hole_count"`
	// ExpectedSeparationMM is the distance between the extreme holes; zero
	// when the part has not been analysed yet.
	ExpectedSeparationMM float64 `json:"expected_separation_mm"`
	// LastObservedMM is the extremes distance of the latest inspection.
	LastObservedMM *float64           `json:"last_observed_mm,omitempty"`
	Inspections    int                `json:"inspections"`
	Notches        []geometry.Point2D `json:"notches"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// TemplateRepository provides CRUD operations for templates.
type TemplateRepository struct {
	s *Store
}

// Templates returns the template repository for this store.
func (s *Store) Templates() *TemplateRepository {
	return &TemplateRepository{s: s}
}

const templateColumns = `id, name, hole_count, expected_separation_mm, last_observed_mm, inspections, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (*Template, error) {
	t := &Template{}
	var observed sql.NullFloat64
	err := row.Scan(&t.ID, &t.Name, &t.HoleCount, &t.ExpectedSeparationMM, &observed, &t.Inspections, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if observed.Valid {
		v := observed.Float64
		t.LastObservedMM = &v
	}
	return t, nil
}

// Create inserts t and its notches. An empty ID is generated.
func (r *TemplateRepository) Create(t *Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	tx, err := r.s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO templates (id, name, hole_count, expected_separation_mm, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.HoleCount, t.ExpectedSeparationMM, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return mapConstraint(err)
	}
	if err := insertNotches(tx, t.ID, t.Notches); err != nil {
		return err
	}
	return tx.Commit()
}

// Get retrieves a template with its notches by ID.
func (r *TemplateRepository) Get(id string) (*Template, error) {
	return r.getWhere("id", id)
}

// GetByName retrieves a template with its notches by name.
func (r *TemplateRepository) GetByName(name string) (*Template, error) {
	return r.getWhere("name", name)
}

func (r *TemplateRepository) getWhere(column, value string) (*Template, error) {
	t, err := scanTemplate(r.s.db.QueryRow(
		`SELECT `+templateColumns+` FROM templates WHERE `+column+` = ?`, value,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if t.Notches, err = r.Notches(t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// List retrieves all templates ordered by name, with their notches.
func (r *TemplateRepository) List() ([]*Template, error) {
	rows, err := r.s.db.Query(`SELECT ` + templateColumns + ` FROM templates ORDER BY name`)
	if err != nil {
		return nil, err
	}

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Notches are loaded after the cursor is closed: the store runs on a
	// single connection.
	for _, t := range templates {
		if t.Notches, err = r.Notches(t.ID); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

// Update changes the name, hole count and expected separation of t and
// replaces its notches.
func (r *TemplateRepository) Update(t *Template) error {
	t.UpdatedAt = time.Now()

	tx, err := r.s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE templates SET name = ?, hole_count = ?, expected_separation_mm = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, t.HoleCount, t.ExpectedSeparationMM, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return mapConstraint(err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM template_notches WHERE template_id = ?`, t.ID); err != nil {
		return err
	}
	if err := insertNotches(tx, t.ID, t.Notches); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a template. Deleting the selected template clears the
// selection.
func (r *TemplateRepository) Delete(id string) error {
	result, err := r.s.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		return err
	}

	selected, err := r.s.getSetting(selectedTemplateKey)
	if err == nil && selected == id {
		return r.s.deleteSetting(selectedTemplateKey)
	}
	return nil
}

// SetNotches replaces the notches of a template.
func (r *TemplateRepository) SetNotches(id string, notches []geometry.Point2D) error {
	tx, err := r.s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE templates SET updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM template_notches WHERE template_id = ?`, id); err != nil {
		return err
	}
	if err := insertNotches(tx, id, notches); err != nil {
		return err
	}
	return tx.Commit()
}

// Notches returns the notch offsets of a template in insertion order.
func (r *TemplateRepository) Notches(id string) ([]geometry.Point2D, error) {
	rows, err := r.s.db.Query(
		`SELECT x_mm, y_mm FROM template_notches WHERE template_id = ? ORDER BY sequence`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notches := []geometry.Point2D{}
	for rows.Next() {
		var p geometry.Point2D
		if err := rows.Scan(&p.X, &p.Y); err != nil {
			return nil, err
		}
		notches = append(notches, p)
	}
	return notches, rows.Err()
}

// Select marks a template as the one used by inspections.
func (r *TemplateRepository) Select(id string) error {
	var exists int
	err := r.s.db.QueryRow(`SELECT 1 FROM templates WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return r.s.setSetting(selectedTemplateKey, id)
}

// Selected returns the selected template, or ErrNotFound when none is.
func (r *TemplateRepository) Selected() (*Template, error) {
	id, err := r.s.getSetting(selectedTemplateKey)
	if err != nil {
		return nil, err
	}
	return r.Get(id)
}

// RecordAnalysis stores the extremes distance measured for a template and
// counts the inspection. The expected separation is set from it when the
// template has none yet.
func (r *TemplateRepository) RecordAnalysis(id string, separationMM float64) error {
	result, err := r.s.db.Exec(
		`UPDATE templates SET
			last_observed_mm = ?,
			inspections = inspections + 1,
			expected_separation_mm = CASE WHEN expected_separation_mm > 0 THEN expected_separation_mm ELSE ? END,
			updated_at = ?
		 WHERE id = ?`,
		separationMM, separationMM, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func insertNotches(tx *sql.Tx, id string, notches []geometry.Point2D) error {
	for i, n := range notches {
		_, err := tx.Exec(
			`INSERT INTO template_notches (template_id, sequence, x_mm, y_mm) VALUES (?, ?, ?, ?)`,
			id, i, n.X, n.Y,
		)
		if err != nil {
			return fmt.Errorf("inserting notch %d: %w", i, err)
		}
	}
	return nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapConstraint(err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed: templates.name") {
		return ErrDuplicateName
	}
	return err
}
