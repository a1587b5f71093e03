package provenance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/provenance"
	"github.com/rowforge/enrich/pkg/provider"
)

func sampleResult(field, source string) *provider.Result {
	return &provider.Result{
		Field:      field,
		Value:      "v",
		Confidence: 0.8,
		Source:     source,
		CostCents:  1,
		Timestamp:  time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
	}
}

func TestRecorder_InsertionOrder(t *testing.T) {
	r := provenance.NewRecorder()
	r.Record("r1", "t1", sampleResult("company", "serper"))
	r.Record("r1", "t1", sampleResult("title", "linkedin"))
	r.Record("r2", "t1", sampleResult("company", "whois"))

	out := r.Export()
	require.Len(t, out, 3)
	assert.Equal(t, "serper", out[0].Source)
	assert.Equal(t, "linkedin", out[1].Source)
	assert.Equal(t, "whois", out[2].Source)

	seen := make(map[string]bool)
	for _, rec := range out {
		require.NotEmpty(t, rec.ID)
		assert.False(t, seen[rec.ID], "ids are unique per run")
		seen[rec.ID] = true
	}

	byRow := r.ForRow("r1")
	require.Len(t, byRow, 2)
	assert.Equal(t, "company", byRow[0].Field)
}

func TestRecorder_ConcurrentAppends(t *testing.T) {
	r := provenance.NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record("r1", "t1", sampleResult("company", "serper"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}

func TestRecorder_Reset(t *testing.T) {
	r := provenance.NewRecorder()
	r.Record("r1", "t1", sampleResult("company", "serper"))
	r.Reset()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Export())
}

func TestSQLiteArchive_RoundTrip(t *testing.T) {
	archive, err := provenance.OpenSQLiteArchive(":memory:")
	require.NoError(t, err)
	defer func() { _ = archive.Close() }()

	r := provenance.NewRecorder()
	r.Record("r1", "t1", sampleResult("company", "serper"))
	r.Record("r1", "t1", sampleResult("title", "linkedin"))
	r.Record("r2", "t1", sampleResult("company", "whois"))

	ctx := context.Background()
	require.NoError(t, archive.SaveAll(ctx, r.Export()))

	n, err := archive.CountForRow(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteArchive_ReexportIsIdempotent(t *testing.T) {
	archive, err := provenance.OpenSQLiteArchive(":memory:")
	require.NoError(t, err)
	defer func() { _ = archive.Close() }()

	r := provenance.NewRecorder()
	r.Record("r1", "t1", sampleResult("company", "serper"))

	ctx := context.Background()
	require.NoError(t, archive.SaveAll(ctx, r.Export()))

	// A second enrichment of the same row exports the old record again
	// plus whatever the new run added.
	r.Record("r1", "t1", sampleResult("title", "linkedin"))
	require.NoError(t, archive.SaveAll(ctx, r.ForRow("r1")))

	n, err := archive.CountForRow(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteArchive_EmptySave(t *testing.T) {
	archive, err := provenance.OpenSQLiteArchive(":memory:")
	require.NoError(t, err)
	defer func() { _ = archive.Close() }()

	assert.NoError(t, archive.SaveAll(context.Background(), nil))
}
