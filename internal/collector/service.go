// Package collector is the merge target: it receives batch files from
// tracker devices (over gRPC, as files, or through a drop directory),
// merges them into one store and reports on the result.
package collector

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/archive"
	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/dmitrijs2005/servicetracker/internal/filex"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/merge"
	"github.com/dmitrijs2005/servicetracker/internal/records"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/imports"
	recordsrepo "github.com/dmitrijs2005/servicetracker/internal/repositories/records"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/repomanager"
)

// Sub-directories of the drop directory that receive handled files.
const (
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// FileResult is the outcome of importing one file.
type FileResult struct {
	Path   string
	Result merge.Result
	Err    error
}

type Service struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	engine   *merge.Engine
	archiver archive.Archiver
	dec      merge.Decoder
	log      logging.Logger
	now      func() time.Time
}

// NewService wires the collector operations. dec may be nil when no PIN is
// configured; protected cells are then stored as received.
func NewService(db *sql.DB, repos repomanager.RepositoryManager, engine *merge.Engine, archiver archive.Archiver, dec merge.Decoder, log logging.Logger) *Service {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &Service{
		db:       db,
		repos:    repos,
		engine:   engine,
		archiver: archiver,
		dec:      dec,
		log:      log.With("module", "collector"),
		now:      time.Now,
	}
}

// Ingest merges one batch file and archives the original bytes. An archive
// failure is logged and does not undo the merge.
func (s *Service) Ingest(ctx context.Context, src merge.Source, data []byte) (merge.Result, error) {
	res, err := s.engine.IngestBatch(ctx, src, bytes.NewReader(data), s.dec)
	if err != nil {
		return merge.Result{}, err
	}

	key := archive.ObjectKey(s.now(), res.BatchID)
	loc, err := s.archiver.Put(ctx, key, data)
	if err != nil {
		s.log.Warn(ctx, "archive failed", "batch", res.BatchID, "error", err)
	} else if loc != "" {
		s.log.Debug(ctx, "batch archived", "batch", res.BatchID, "location", loc)
	}
	return res, nil
}

// ImportFile ingests the batch file at path. The source is recorded as
// origin; the file's base name is kept as provenance.
func (s *Service) ImportFile(ctx context.Context, origin, path string) (merge.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return merge.Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return s.Ingest(ctx, merge.Source{Name: origin, File: filepath.Base(path)}, data)
}

// ImportDir ingests every .csv file in dir in name order. Merged files move
// to dir/processed and malformed ones to dir/rejected. A storage failure
// stops the run and leaves the current file in place for the next attempt.
func (s *Service) ImportDir(ctx context.Context, dir string) ([]FileResult, error) {
	files, err := filex.ListByExt(dir, ".csv")
	if err != nil {
		return nil, err
	}

	var out []FileResult
	for _, path := range files {
		res, err := s.ImportFile(ctx, "dropdir", path)
		fr := FileResult{Path: path, Result: res, Err: err}
		out = append(out, fr)

		switch {
		case err == nil:
			if err := s.moveTo(path, dir, ProcessedDir); err != nil {
				return out, err
			}
		case errors.Is(err, common.ErrMalformedBatch):
			s.log.Warn(ctx, "rejected file", "file", filepath.Base(path), "error", err)
			if err := s.moveTo(path, dir, RejectedDir); err != nil {
				return out, err
			}
		default:
			return out, err
		}
	}
	return out, nil
}

func (s *Service) moveTo(path, base, sub string) error {
	target, err := filex.EnsureSubdDir(base, sub)
	if err != nil {
		return err
	}
	_, err = filex.MoveInto(path, target)
	return err
}

// Summary returns record counts and total minutes per student.
func (s *Service) Summary(ctx context.Context) ([]recordsrepo.StudentSummary, error) {
	return s.repos.Records(s.db).Summary(ctx)
}

// History returns the newest limit ledger rows.
func (s *Service) History(ctx context.Context, limit int) ([]imports.Batch, error) {
	return s.repos.Imports(s.db).List(ctx, limit)
}

// Export writes the merged records for student (everyone when empty) as a
// batch file and returns how many were written.
func (s *Service) Export(ctx context.Context, w io.Writer, student string) (int, error) {
	recs, err := s.repos.Records(s.db).Select(ctx, student, false)
	if err != nil {
		return 0, err
	}
	if err := records.WriteBatch(w, recs); err != nil {
		return 0, err
	}
	return len(recs), nil
}
