// Package sqlite implements repository.DocumentRepository on top of a
// single SQLite table holding one row per document.
//
// WHY SQLITE FOR JSON DOCUMENTS?
// The JSON file backend is the default and keeps the data human-readable.
// The SQLite backend trades that for a single database file with WAL
// journaling, which survives partial writes on filesystems where rename is
// not atomic (some network mounts) and is easy to back up while running.
//
// modernc.org/sqlite is a pure Go translation of SQLite: no C compiler is
// needed and cross-compilation keeps working.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sakif/shared-lists/internal/repository"
)

var _ repository.DocumentRepository = (*DB)(nil)

// DB wraps a sql.DB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens the database and runs migrations.
//
// dbPath examples:
//   - "data/lists.db"  → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every write already goes through the store's run-queue; one
	// connection also keeps a ":memory:" database from splitting per
	// connection.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the documents table. CREATE TABLE IF NOT EXISTS and
// addColumnIfNotExists keep it safe to run on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			name       TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}

	// revision counts successful writes of a document.
	if err := db.addColumnIfNotExists("documents", "revision",
		"INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding revision to documents: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// Read returns the stored content, or repository.ErrNotExist.
func (db *DB) Read(ctx context.Context, doc string) ([]byte, error) {
	var content string
	err := db.conn.QueryRowContext(ctx,
		`SELECT content FROM documents WHERE name = ?`,
		doc,
	).Scan(&content)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotExist
		}
		return nil, fmt.Errorf("sqlite: reading document %s: %w", doc, err)
	}
	return []byte(content), nil
}

// Write replaces a document in one statement, so it is atomic.
func (db *DB) Write(ctx context.Context, doc string, data []byte) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO documents (name, content, updated_at, revision)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(name) DO UPDATE SET
		   content    = excluded.content,
		   updated_at = excluded.updated_at,
		   revision   = documents.revision + 1`,
		doc,
		string(data),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: writing document %s: %w", doc, err)
	}
	return nil
}
