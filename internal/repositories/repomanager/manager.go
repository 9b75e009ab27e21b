// Package repomanager vends dialect-specific repositories and opens,
// configures and migrates the underlying database.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/servicetracker/internal/dbx"
	"github.com/dmitrijs2005/servicetracker/internal/migrations"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/imports"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/records"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/settings"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/students"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type RepositoryManager interface {
	Dialect() dbx.Dialect
	RunMigrations(ctx context.Context, db *sql.DB) error
	Records(db dbx.DBTX) records.Repository
	Imports(db dbx.DBTX) imports.Repository
	Settings(db dbx.DBTX) settings.Repository
	Students(db dbx.DBTX) students.Repository
}

// runMigrations is a seam for tests.
var runMigrations = migrations.Up

type SQLiteRepositoryManager struct{}

func (m *SQLiteRepositoryManager) Dialect() dbx.Dialect { return dbx.SQLite }

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return runMigrations(ctx, db, dbx.SQLite)
}

func (m *SQLiteRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Imports(db dbx.DBTX) imports.Repository {
	return imports.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Settings(db dbx.DBTX) settings.Repository {
	return settings.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Students(db dbx.DBTX) students.Repository {
	return students.NewSQLiteRepository(db)
}

// PostgresRepositoryManager vends Postgres-backed repositories.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Dialect() dbx.Dialect { return dbx.Postgres }

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return runMigrations(ctx, db, dbx.Postgres)
}

func (m *PostgresRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Imports(db dbx.DBTX) imports.Repository {
	return imports.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Settings(db dbx.DBTX) settings.Repository {
	return settings.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Students(db dbx.DBTX) students.Repository {
	return students.NewPostgresRepository(db)
}

// ForDialect returns the manager for d.
func ForDialect(d dbx.Dialect) (RepositoryManager, error) {
	switch d {
	case dbx.SQLite:
		return &SQLiteRepositoryManager{}, nil
	case dbx.Postgres:
		return &PostgresRepositoryManager{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", d)
	}
}

// Open connects to dsn with the driver for d, applies per-driver settings
// and runs migrations. SQLite gets a single connection so writes serialize
// and in-memory databases stay shared.
func Open(ctx context.Context, d dbx.Dialect, dsn string) (*sql.DB, RepositoryManager, error) {
	m, err := ForDialect(d)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, nil, dbx.Unavailable(err)
	}

	if d == dbx.SQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, nil, dbx.Unavailable(err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, dbx.Unavailable(err)
	}

	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, m, nil
}

// ParseDialect maps a config value onto a Dialect. "postgres" is accepted
// as an alias of the pgx driver name.
func ParseDialect(s string) (dbx.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return dbx.SQLite, nil
	case "pgx", "postgres", "postgresql":
		return dbx.Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}
