// Package students keeps the device-local list of known student names.
package students

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/dmitrijs2005/servicetracker/internal/dbx"
)

type Repository interface {
	// Add inserts name if it is new. Adding an existing name is a no-op.
	Add(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, name string) (bool, error)
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

func (r *SQLRepository) Add(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("add student: %w", common.ErrMalformedPayload)
	}
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`INSERT INTO students (name) VALUES (?) ON CONFLICT (name) DO NOTHING`), name)
	if err != nil {
		return fmt.Errorf("add student: %w", dbx.Unavailable(err))
	}
	return nil
}

func (r *SQLRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM students ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", dbx.Unavailable(err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *SQLRepository) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT COUNT(*) FROM students WHERE name = ?`), strings.TrimSpace(name)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("student exists: %w", dbx.Unavailable(err))
	}
	return n > 0, nil
}
