package costs

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresLedgerStore persists ledger entries to the cost_ledger table.
// The engine works without it; billing pipelines read the table offline.
type PostgresLedgerStore struct {
	db *sql.DB
}

// NewPostgresLedgerStore wraps an existing database handle.
func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

func (s *PostgresLedgerStore) Append(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_ledger (id, row_id, table_id, provider, field, cents, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.RowID, entry.TableID, entry.Provider, entry.Field, entry.Cents, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append cost ledger entry: %w", err)
	}
	return nil
}

// RowTotal sums the persisted spend for one row, for reconciliation.
func (s *PostgresLedgerStore) RowTotal(ctx context.Context, rowID string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(cents), 0) FROM cost_ledger WHERE row_id = $1", rowID)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum cost ledger for row %q: %w", rowID, err)
	}
	return total, nil
}
