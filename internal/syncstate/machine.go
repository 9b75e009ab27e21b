// Package syncstate tracks the one-way Unreported -> Reported transition of
// stored records and uses it to send only what has not been acknowledged.
package syncstate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/servicetracker/internal/dbx"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/records"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/repomanager"
)

// Scope narrows a selection. The zero value selects every student.
type Scope struct {
	Student string
}

// AllStudents is the zero scope.
var AllStudents = Scope{}

type Machine struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
	log   logging.Logger
}

func New(db *sql.DB, repos repomanager.RepositoryManager, log logging.Logger) *Machine {
	return &Machine{db: db, repos: repos, log: log.With("module", "syncstate")}
}

// SelectUnreported returns the unreported records in scope, oldest first.
func (m *Machine) SelectUnreported(ctx context.Context, scope Scope) ([]records.Record, error) {
	return m.repos.Records(m.db).Select(ctx, scope.Student, true)
}

// SelectAll returns every record in scope regardless of the flag.
func (m *Machine) SelectAll(ctx context.Context, scope Scope) ([]records.Record, error) {
	return m.repos.Records(m.db).Select(ctx, scope.Student, false)
}

// MarkReported moves ids to Reported in one transaction and returns how many
// changed state. Already reported ids are skipped without error. Call it
// only after the receiving side has acknowledged the records.
func (m *Machine) MarkReported(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = m.repos.Records(tx).MarkReported(ctx, ids)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("mark reported: %w", err)
	}
	m.log.Debug(ctx, "records marked reported", "requested", len(ids), "changed", n)
	return n, nil
}
