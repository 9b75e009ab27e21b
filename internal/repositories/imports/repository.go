// Package imports keeps the append-only ledger of ingestion attempts.
package imports

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/servicetracker/internal/dbx"
)

// Status values written to the ledger.
const (
	StatusSuccess = "success"
)

// Batch is one ledger row. It is written once and never updated.
type Batch struct {
	ID             string
	Source         string
	SourceFile     string
	Accepted       int
	Duplicates     int
	Rejected       int
	DecodeFailures int
	Status         string
	ImportedAt     string
}

type Repository interface {
	Append(ctx context.Context, b Batch) error
	// List returns the newest limit rows first; limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]Batch, error)
}

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLiteRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, dialect: dbx.SQLite}
}

func NewPostgresRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, dialect: dbx.Postgres}
}

const appendBatch = `
INSERT INTO import_batches (id, source, source_file, accepted, duplicates, rejected, decode_failures, status, imported_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (r *SQLRepository) Append(ctx context.Context, b Batch) error {
	var file any
	if b.SourceFile != "" {
		file = b.SourceFile
	}
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(appendBatch),
		b.ID, b.Source, file, b.Accepted, b.Duplicates, b.Rejected, b.DecodeFailures, b.Status, b.ImportedAt)
	if err != nil {
		return fmt.Errorf("append import batch: %w", dbx.Unavailable(err))
	}
	return nil
}

const listBatches = `
SELECT id, source, COALESCE(source_file, ''), accepted, duplicates, rejected, decode_failures, status, imported_at
FROM import_batches
ORDER BY imported_at DESC, id`

func (r *SQLRepository) List(ctx context.Context, limit int) ([]Batch, error) {
	q := listBatches
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list import batches: %w", dbx.Unavailable(err))
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.Source, &b.SourceFile, &b.Accepted, &b.Duplicates,
			&b.Rejected, &b.DecodeFailures, &b.Status, &b.ImportedAt); err != nil {
			return nil, fmt.Errorf("scan import batch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import batches: %w", dbx.Unavailable(err))
	}
	return out, nil
}
