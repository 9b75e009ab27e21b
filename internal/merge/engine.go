// Package merge ingests batches of raw rows into the record store. Every
// row is inserted with a single constrained insert keyed by the natural key,
// so re-delivered rows are absorbed as duplicates. A batch and its ledger
// entry commit together or not at all.
package merge

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/dbx"
	"github.com/dmitrijs2005/servicetracker/internal/envelope"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/records"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/imports"
	recordsrepo "github.com/dmitrijs2005/servicetracker/internal/repositories/records"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/repomanager"
	"github.com/google/uuid"
)

// Decoder unwraps protected cells. *envelope.Codec implements it.
type Decoder interface {
	TryDecode(value string) (string, bool)
}

// Source identifies where a batch came from.
type Source struct {
	// Name is the origin, e.g. a device id or a mailbox address.
	Name string
	// File is the original file name, if any.
	File string
}

// Result is the outcome of one ingestion call.
type Result struct {
	BatchID        string
	Accepted       int
	Duplicates     int
	Rejected       int
	DecodeFailures int
	Warnings       int
}

type Engine struct {
	db    dbx.TxBeginner
	repos repomanager.RepositoryManager
	log   logging.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Engine)

// WithClock overrides the time source used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(db *sql.DB, repos repomanager.RepositoryManager, log logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:    db,
		repos: repos,
		log:   log.With("module", "merge"),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// IngestBatch parses r as a batch file and merges it. A file that cannot be
// parsed fails the whole call before anything is written.
func (e *Engine) IngestBatch(ctx context.Context, src Source, r io.Reader, dec Decoder) (Result, error) {
	b, err := records.ParseBatch(r)
	if err != nil {
		return Result{}, err
	}
	return e.ingest(ctx, src, b.Rows, b.Rejected, dec)
}

// Ingest merges already-split rows.
func (e *Engine) Ingest(ctx context.Context, src Source, rows []records.RawRow, dec Decoder) (Result, error) {
	return e.ingest(ctx, src, rows, 0, dec)
}

func (e *Engine) ingest(ctx context.Context, src Source, rows []records.RawRow, rejected int, dec Decoder) (Result, error) {
	res := Result{BatchID: e.newID(), Rejected: rejected}
	importedAt := e.now().UTC().Format(time.RFC3339)
	prov := recordsrepo.Provenance{Source: src.Name, SourceFile: src.File, ImportedAt: importedAt}

	recs, err := e.prepare(ctx, rows, dec, &res)
	if err != nil {
		return Result{}, fmt.Errorf("ingest %s: %w", src.Name, err)
	}

	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := e.repos.Records(tx)
		for _, rec := range recs {
			inserted, err := repo.Insert(ctx, rec, prov)
			if err != nil {
				return err
			}
			if inserted {
				res.Accepted++
			} else {
				res.Duplicates++
			}
		}

		return e.repos.Imports(tx).Append(ctx, imports.Batch{
			ID:             res.BatchID,
			Source:         src.Name,
			SourceFile:     src.File,
			Accepted:       res.Accepted,
			Duplicates:     res.Duplicates,
			Rejected:       res.Rejected,
			DecodeFailures: res.DecodeFailures,
			Status:         imports.StatusSuccess,
			ImportedAt:     importedAt,
		})
	})
	if err != nil {
		e.log.Error(ctx, "batch rolled back", "source", src.Name, "file", src.File, "error", err)
		return Result{}, fmt.Errorf("ingest %s: %w", src.Name, err)
	}

	if res.DecodeFailures > 0 {
		e.log.Debug(ctx, "cells kept raw after decode failure", "batch", res.BatchID, "count", res.DecodeFailures)
	}
	e.log.Info(ctx, "batch merged",
		"batch", res.BatchID, "source", src.Name, "file", src.File,
		"accepted", res.Accepted, "duplicates", res.Duplicates, "rejected", res.Rejected)
	return res, nil
}

// prepare decodes and coerces rows outside any transaction, so key
// derivation never holds the store's write lock.
func (e *Engine) prepare(ctx context.Context, rows []records.RawRow, dec Decoder, res *Result) ([]records.Record, error) {
	if c, ok := dec.(*envelope.Codec); ok {
		dec = c.ForBatch()
	}

	recs := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if dec != nil {
			row = row.Map(func(cell string) string {
				if !envelope.LooksProtected(cell) {
					return cell
				}
				out, ok := dec.TryDecode(cell)
				if !ok {
					res.DecodeFailures++
				}
				return out
			})
		}

		rec, warns := row.Record()
		res.Warnings += len(warns)
		recs = append(recs, rec)
	}
	return recs, nil
}

// Insert stores one captured record outside any batch. It reports false when
// the natural key already exists.
func (e *Engine) Insert(ctx context.Context, rec records.Record) (bool, error) {
	var inserted bool
	err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		inserted, err = e.repos.Records(tx).Insert(ctx, rec, recordsrepo.Provenance{})
		return err
	})
	return inserted, err
}
