// Package db owns the workspace SQLite file under .crewline/.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	stateDir = ".crewline"
	dbName   = "crewline.db"
)

// Path returns the database file path for a workspace directory.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, dbName)
}

// EnsureWorkspace creates the workspace state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the workspace database, creating the state directory on first
// use. Foreign keys are enforced; concurrent writers wait out busy locks
// instead of failing fast.
func Open(workspace string) (*sql.DB, error) {
	if _, err := EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", Path(workspace))
	return sql.Open("sqlite", dsn)
}
