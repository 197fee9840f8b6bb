package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db *sql.DB
}

// DB returns the underlying *sql.DB instance
func (d *Database) DB() *sql.DB {
	return d.db
}

// New opens the SQLite file at path, creating its directory, and runs
// migrations. ":memory:" opens a private in-memory database.
func New(path string) (*Database, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:"
	// pointing at one database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	dbInstance := &Database{db: db}
	if err := dbInstance.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return dbInstance, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// migrate runs the database migrations
func (d *Database) migrate() error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			run_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range getMigrations() {
		var count int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM _migrations WHERE name = ?`,
			m.name,
		).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			continue
		}

		if _, err := tx.Exec(m.statement); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO _migrations (name) VALUES (?)`,
			m.name,
		); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
	}

	return tx.Commit()
}

type migration struct {
	name      string
	statement string
}

func getMigrations() []migration {
	return []migration{
		{
			name: "documents",
			statement: `
				-- One row per document; data is a JSON object
				CREATE TABLE IF NOT EXISTS documents (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					collection TEXT NOT NULL,
					id TEXT NOT NULL,
					data TEXT NOT NULL CHECK (json_valid(data)),
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(collection, id)
				);

				CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);

				CREATE TRIGGER IF NOT EXISTS update_documents_timestamp
				AFTER UPDATE OF data ON documents
				BEGIN
					UPDATE documents SET updated_at = CURRENT_TIMESTAMP WHERE seq = OLD.seq;
				END;
			`,
		},
		{
			name: "events_lookup_indexes",
			statement: `
				CREATE INDEX IF NOT EXISTS idx_documents_events_parent
					ON documents(json_extract(data, '$.parentEventId'))
					WHERE collection = 'events';
				CREATE INDEX IF NOT EXISTS idx_documents_events_creator
					ON documents(json_extract(data, '$.creator'))
					WHERE collection = 'events';
			`,
		},
	}
}
