// Package migrate creates and upgrades the complyline sqlite schema. Steps
// are plain SQL files embedded under sql/, named NNNN_description.sql, and
// applied in one transaction against the version recorded in schema_version.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var stepsFS embed.FS

type step struct {
	version int
	name    string
	sql     string
}

func loadSteps() ([]step, error) {
	files, err := fs.ReadDir(stepsFS, "sql")
	if err != nil {
		return nil, err
	}
	var steps []step
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := stepsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("migration %s: name does not start with a version number: %w", f.Name(), err)
		}
		steps = append(steps, step{version: v, name: f.Name(), sql: string(data)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func currentVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("seed schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}

// Migrate brings the database up to the newest embedded schema step. Already
// applied steps are skipped, so calling it on every startup is safe.
func Migrate(db *sql.DB) error {
	steps, err := loadSteps()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	version, err := currentVersion(tx)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if s.version <= version {
			continue
		}
		if _, err := tx.Exec(s.sql); err != nil {
			return fmt.Errorf("apply %s: %w", s.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, s.version); err != nil {
			return fmt.Errorf("record version %d: %w", s.version, err)
		}
		version = s.version
	}
	return tx.Commit()
}
