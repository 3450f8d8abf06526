package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Gasket templates - part descriptions the inspection checks against
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			hole_count INTEGER NOT NULL CHECK(hole_count >= 0),
			expected_separation_mm REAL NOT NULL DEFAULT 0,
			last_observed_mm REAL,
			inspections INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Notch offsets in part millimetres, relative to the reference midpoint
		`CREATE TABLE IF NOT EXISTS template_notches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
			sequence INTEGER NOT NULL,
			x_mm REAL NOT NULL,
			y_mm REAL NOT NULL
		)`,

		// Settings table - selected template and saved fiducial reference
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Inspection history
		`CREATE TABLE IF NOT EXISTS inspections (
			id TEXT PRIMARY KEY,
			template_id TEXT REFERENCES templates(id) ON DELETE SET NULL,
			template_name TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			early_exit TEXT NOT NULL DEFAULT '',
			distance_mm REAL,
			data TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_template_notches_template_id ON template_notches(template_id)`,
		`CREATE INDEX IF NOT EXISTS idx_inspections_created_at ON inspections(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
