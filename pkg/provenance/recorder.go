// Package provenance keeps the audit trail of every provider result that
// contributed to a row. Records are append-only and exported in
// insertion order.
package provenance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rowforge/enrich/pkg/provider"
)

// Record is the audit line for one provider result.
type Record struct {
	ID         string         `json:"id"`
	RowID      string         `json:"row_id"`
	TableID    string         `json:"table_id"`
	Field      string         `json:"field"`
	Source     string         `json:"source"`
	Value      any            `json:"value"`
	Confidence float64        `json:"confidence"`
	Raw        map[string]any `json:"raw,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	CostCents  int64          `json:"cost_cents"`
}

// Archive persists exported records out of process. Archival is
// best-effort; the recorder itself is the source of truth for a run.
type Archive interface {
	SaveAll(ctx context.Context, records []Record) error
}

// Recorder collects records for one engine instance. Safe for
// concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one audit line for a provider result and returns it.
func (r *Recorder) Record(rowID, tableID string, res *provider.Result) Record {
	rec := Record{
		ID:         uuid.New().String(),
		RowID:      rowID,
		TableID:    tableID,
		Field:      res.Field,
		Source:     res.Source,
		Value:      res.Value,
		Confidence: res.Confidence,
		Raw:        res.Raw,
		Timestamp:  res.Timestamp,
		CostCents:  res.CostCents,
	}
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return rec
}

// Export returns a copy of all records in insertion order.
func (r *Recorder) Export() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// ForRow returns the records for one row in insertion order.
func (r *Recorder) ForRow(rowID string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.RowID == rowID {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Reset clears the recorder between jobs.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
