// Package migrate applies the embedded schema migrations.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type migration struct {
	version int
	name    string
	up      string
}

func load() ([]migration, error) {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return nil, err
	}
	var ms []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("migration filename %s: %w", entry.Name(), err)
		}
		data, err := schemaFS.ReadFile("sql/" + entry.Name())
		if err != nil {
			return nil, err
		}
		ms = append(ms, migration{version: v, name: entry.Name(), up: string(data)})
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].version < ms[j].version })
	return ms, nil
}

// Migrate brings the schema up to the latest embedded version. Each migration
// runs in its own transaction, so a failure leaves earlier ones applied and
// the version table consistent.
func Migrate(db *sql.DB) error {
	ms, err := load()
	if err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	current, err := currentVersion(db)
	if err != nil {
		return err
	}
	for _, m := range ms {
		if m.version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return err
		}
		current = m.version
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		if _, err := db.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("init schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(m.up); err != nil {
		return fmt.Errorf("migration %s: %w", m.name, err)
	}
	if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.version); err != nil {
		return fmt.Errorf("record version %d: %w", m.version, err)
	}
	return tx.Commit()
}
