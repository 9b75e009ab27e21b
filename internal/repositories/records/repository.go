// Package records stores service-log records. One SQL implementation serves
// SQLite and Postgres; placeholders are rebound per dialect.
package records

import (
	"context"

	"github.com/dmitrijs2005/servicetracker/internal/records"
)

// Provenance tells where a merged record came from. Device-local captures
// leave it empty.
type Provenance struct {
	Source     string
	SourceFile string
	ImportedAt string
}

// StudentSummary aggregates the records of one student.
type StudentSummary struct {
	Student       string
	Count         int64
	TotalDuration float64
}

type Repository interface {
	// Insert stores rec unless its natural key already exists. It reports
	// whether a row was written.
	Insert(ctx context.Context, rec records.Record, prov Provenance) (bool, error)
	// Select returns records ordered by timestamp ascending. An empty
	// student matches everyone; onlyUnreported filters on the flag.
	Select(ctx context.Context, student string, onlyUnreported bool) ([]records.Record, error)
	// MarkReported flips the given ids to reported and returns how many
	// actually changed. Unknown or already reported ids are skipped.
	MarkReported(ctx context.Context, ids []int64) (int64, error)
	Count(ctx context.Context) (int64, error)
	Summary(ctx context.Context) ([]StudentSummary, error)
}
