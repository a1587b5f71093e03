package provenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS provenance (
	id          TEXT PRIMARY KEY,
	row_id      TEXT NOT NULL,
	table_id    TEXT NOT NULL,
	field       TEXT NOT NULL,
	source      TEXT NOT NULL,
	value       TEXT,
	confidence  REAL NOT NULL,
	raw         TEXT,
	recorded_at TIMESTAMP NOT NULL,
	cost_cents  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provenance_row ON provenance(row_id);
`

// SQLiteArchive stores exported provenance in an embedded database file,
// one insert per record inside a single transaction.
type SQLiteArchive struct {
	db *sql.DB
}

// OpenSQLiteArchive opens (creating if needed) the archive at path.
// Use ":memory:" for tests.
func OpenSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open provenance archive: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init provenance schema: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

// Close releases the underlying database handle.
func (a *SQLiteArchive) Close() error { return a.db.Close() }

func (a *SQLiteArchive) SaveAll(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin provenance save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A row enriched again within its cache TTL exports its full trail
	// again, records from the first run included. OR IGNORE keeps the
	// re-export idempotent on the record id.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO provenance (id, row_id, table_id, field, source, value, confidence, raw, recorded_at, cost_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare provenance insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		value, err := json.Marshal(rec.Value)
		if err != nil {
			return fmt.Errorf("encode provenance value %q: %w", rec.ID, err)
		}
		var raw []byte
		if rec.Raw != nil {
			if raw, err = json.Marshal(rec.Raw); err != nil {
				return fmt.Errorf("encode provenance raw %q: %w", rec.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.RowID, rec.TableID, rec.Field, rec.Source,
			string(value), rec.Confidence, string(raw), rec.Timestamp, rec.CostCents); err != nil {
			return fmt.Errorf("insert provenance %q: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// CountForRow returns how many archived records exist for a row.
func (a *SQLiteArchive) CountForRow(ctx context.Context, rowID string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM provenance WHERE row_id = ?", rowID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count provenance for row %q: %w", rowID, err)
	}
	return n, nil
}
