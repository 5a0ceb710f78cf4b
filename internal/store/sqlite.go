package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteBackend stores slots in a local SQLite database. This is the durable
// default for workstation clients: WAL mode keeps slot writes atomic even
// across process crashes.
type SQLiteBackend struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteBackend opens (or creates) the slot database under dataDir.
func NewSQLiteBackend(dataDir string, logger zerolog.Logger) (*SQLiteBackend, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "offline.db")

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	b := &SQLiteBackend{
		db:     db,
		logger: logger.With().Str("component", "sqlite_backend").Logger(),
	}

	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	b.logger.Info().Str("path", dbPath).Msg("offline slot database initialized")
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS slots (
			name TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Get returns the raw bytes of a slot, or ErrSlotNotFound.
func (b *SQLiteBackend) Get(ctx context.Context, slot string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, "SELECT value FROM slots WHERE name = ?", slot).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query slot: %w", err)
	}
	return value, nil
}

// Put overwrites the slot with the given bytes.
func (b *SQLiteBackend) Put(ctx context.Context, slot string, data []byte) error {
	query := `
		INSERT INTO slots (name, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := b.db.ExecContext(ctx, query, slot, data); err != nil {
		return fmt.Errorf("upsert slot: %w", err)
	}
	return nil
}

// Delete removes the slot.
func (b *SQLiteBackend) Delete(ctx context.Context, slot string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM slots WHERE name = ?", slot); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}

// Slots lists the slot names currently present.
func (b *SQLiteBackend) Slots(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT name FROM slots")
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan slot name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return names, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
