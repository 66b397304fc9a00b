package store

import (
	"database/sql"
	"fmt"

	"sitegraph/internal/logging"
)

// runMigrations adds columns introduced after the initial schema so that
// databases created by older builds keep working. Each step is idempotent.
func runMigrations(db *sql.DB) error {
	steps := []struct {
		table, column, ddl string
	}{
		// input_state_hash joined the node equivalence key after the first
		// release; older rows default to the empty hash.
		{"nodes", "input_state_hash",
			"ALTER TABLE nodes ADD COLUMN input_state_hash TEXT NOT NULL DEFAULT ''"},
		// intent confidence was recorded as a bare label initially.
		{"edges", "intent_confidence",
			"ALTER TABLE edges ADD COLUMN intent_confidence REAL"},
		{"runs", "evaluation_payload",
			"ALTER TABLE runs ADD COLUMN evaluation_payload TEXT"},
		// attempts counts repeated deliveries of the same edge key; earlier
		// builds relied on row count alone.
		{"edges", "attempts",
			"ALTER TABLE edges ADD COLUMN attempts INTEGER NOT NULL DEFAULT 1"},
	}

	for _, step := range steps {
		has, err := hasColumn(db, step.table, step.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := db.Exec(step.ddl); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", step.table, step.column, err)
		}
		logging.Store("Migration applied: %s.%s", step.table, step.column)
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
