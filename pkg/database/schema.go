package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a database carries the archive schema.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and returns the first failure.
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"sessions", "turns", "schema_migrations"} {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies declared column types.
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":             "TEXT",
		"connection_id":  "TEXT",
		"connected_at":   "DATETIME",
		"ended_at":       "DATETIME",
		"current_part":   "INTEGER",
		"question_count": "INTEGER",
		"completed":      "INTEGER",
		"evaluation":     "TEXT",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	turnColumns := map[string]string{
		"session_id": "TEXT",
		"seq":        "INTEGER",
		"speaker":    "TEXT",
		"content":    "TEXT",
		"timestamp":  "DATETIME",
	}
	if err := v.validateColumns("turns", turnColumns); err != nil {
		return fmt.Errorf("turns table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range []string{
		"idx_sessions_ended_at",
		"idx_sessions_completed",
		"idx_turns_session_speaker",
	} {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints exercises the foreign key and speaker check constraints.
// Check rows are removed before returning.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO turns (session_id, seq, speaker, content, timestamp)
		VALUES ('constraint-check-missing', 0, 'candidate', '', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM turns WHERE session_id = 'constraint-check-missing'")
		return fmt.Errorf("foreign key constraint not enforced: turns.session_id")
	}

	_, err = v.db.Exec(`
		INSERT INTO sessions (id, connection_id, connected_at)
		VALUES ('constraint-check', 'check', CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("failed to create check session: %w", err)
	}
	defer func() { _, _ = v.db.Exec("DELETE FROM sessions WHERE id = 'constraint-check'") }()

	_, err = v.db.Exec(`
		INSERT INTO turns (session_id, seq, speaker, content, timestamp)
		VALUES ('constraint-check', 0, 'moderator', '', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: turns.speaker")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, wantType := range expected {
		gotType, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", column, gotType, wantType)
		}
	}
	return nil
}
