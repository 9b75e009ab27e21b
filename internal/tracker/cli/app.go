// Package cli is the interactive front end of the tracker. Each command is
// also accepted on the command line for one-shot use.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/servicetracker/internal/credstore"
	"github.com/dmitrijs2005/servicetracker/internal/dbx"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/repomanager"
	"github.com/dmitrijs2005/servicetracker/internal/syncstate"
	"github.com/dmitrijs2005/servicetracker/internal/tracker"
	"github.com/dmitrijs2005/servicetracker/internal/tracker/config"
	"github.com/dmitrijs2005/servicetracker/internal/transport"
)

// collectorClient is the part of transport.Client the tracker uses.
type collectorClient interface {
	Ping(ctx context.Context) error
	Sender(file string) syncstate.Sender
	Close() error
}

type dialFunc func(addr, token string) (collectorClient, error)

func dialCollector(addr, token string) (collectorClient, error) {
	return transport.NewClient(addr, token)
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	service *tracker.Service
	creds   credstore.Store
	reader  *bufio.Reader
	out     io.Writer
	dial    dialFunc
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stderr, c.LogLevel, c.LogFormat)

	format, err := tracker.ParseFormat(c.EnvelopeFormat)
	if err != nil {
		return nil, err
	}

	db, repos, err := repomanager.Open(ctx, dbx.SQLite, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	creds := credstore.NewFile(c.CredentialsFile)
	svc := tracker.NewService(db, repos, creds, c.DeviceID, format, logger)

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		service: svc,
		creds:   creds,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		dial:    dialCollector,
	}, nil
}

func (a *App) Close() error {
	return a.db.Close()
}

// Run executes args as one command, or starts the REPL when args is empty.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.out, "Service tracker (type 'help' for commands)")
		a.repl(ctx)
		return nil
	}
	_, err := a.exec(ctx, args[0], args[1:])
	return err
}

func (a *App) println(args ...any) {
	fmt.Fprintln(a.out, args...)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
