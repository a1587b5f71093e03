package costs_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/costs"
)

func TestPostgresLedgerStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entry := costs.Entry{
		ID:        "e-1",
		RowID:     "r1",
		TableID:   "t1",
		Provider:  "serper",
		Field:     "company",
		Cents:     2,
		Timestamp: time.Now(),
	}

	mock.ExpectExec("INSERT INTO cost_ledger").
		WithArgs(entry.ID, entry.RowID, entry.TableID, entry.Provider, entry.Field, entry.Cents, entry.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := costs.NewPostgresLedgerStore(db)
	require.NoError(t, store.Append(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerStore_RowTotal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(7))

	store := costs.NewPostgresLedgerStore(db)
	total, err := store.RowTotal(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
