// Package migrations embeds the goose schema migrations for both supported
// stores. The two trees define the same tables; only column types differ.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/dmitrijs2005/servicetracker/internal/dbx"
	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql
var SQLite embed.FS

//go:embed postgres/*.sql
var Postgres embed.FS

// NewProvider returns a goose provider for the dialect's migration tree.
// Providers hold no global state, so several stores can migrate at once.
func NewProvider(db *sql.DB, d dbx.Dialect) (*goose.Provider, error) {
	var (
		dialect goose.Dialect
		tree    fs.FS
		err     error
	)
	switch d {
	case dbx.SQLite:
		dialect = goose.DialectSQLite3
		tree, err = fs.Sub(SQLite, "sqlite")
	case dbx.Postgres:
		dialect = goose.DialectPostgres
		tree, err = fs.Sub(Postgres, "postgres")
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", d)
	}
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(dialect, db, tree)
}

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB, d dbx.Dialect) error {
	p, err := NewProvider(db, d)
	if err != nil {
		return err
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", d, err)
	}
	return nil
}
