package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/dmitrijs2005/servicetracker/internal/archive"
	"github.com/dmitrijs2005/servicetracker/internal/auth"
	"github.com/dmitrijs2005/servicetracker/internal/collector/config"
	"github.com/dmitrijs2005/servicetracker/internal/credstore"
	"github.com/dmitrijs2005/servicetracker/internal/envelope"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/merge"
	"github.com/dmitrijs2005/servicetracker/internal/prompt"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/repomanager"
	"github.com/dmitrijs2005/servicetracker/internal/transport"
)

// Usage lists the collector commands.
const Usage = `usage: collector [flags] <command> [args]

commands:
  serve                 accept batches from devices over gRPC
  import [file...]      merge batch files (the drop directory when none given)
  summary               records and minutes per student
  history [n]           newest import ledger rows (default 20)
  export [student]      write merged records as CSV to stdout
  token <device-id>     issue an access token for a device
  pin [clear]           set or clear the envelope PIN`

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	service *Service
	creds   credstore.Store
	codec   *envelope.Codec
	out     io.Writer
}

// NewApp opens the store, loads the PIN and selects the archive backend.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stderr, c.LogLevel, c.LogFormat)

	dialect, err := repomanager.ParseDialect(c.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	db, repos, err := repomanager.Open(ctx, dialect, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	creds := credstore.NewFile(c.CredentialsFile)
	pin, err := credstore.Lookup(creds, credstore.KeyPIN)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var (
		dec   merge.Decoder
		codec *envelope.Codec
	)
	if pin != "" {
		codec = envelope.NewCodec(pin)
		dec = codec
	}

	arch, err := newArchiver(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	engine := merge.New(db, repos, logger)
	svc := NewService(db, repos, engine, arch, dec, logger)

	return &App{config: c, logger: logger, db: db, service: svc, creds: creds, codec: codec, out: os.Stdout}, nil
}

func newArchiver(ctx context.Context, c *config.Config) (archive.Archiver, error) {
	switch {
	case c.S3Bucket != "":
		return archive.NewS3(ctx, archive.S3Config{
			Bucket:   c.S3Bucket,
			Region:   c.S3Region,
			Endpoint: c.S3BaseEndpoint,
			User:     c.S3RootUser,
			Password: c.S3RootPassword,
		})
	case c.ArchiveDir != "":
		return archive.NewDir(c.ArchiveDir), nil
	default:
		return archive.Nop{}, nil
	}
}

func (app *App) Close() error {
	if app.codec != nil {
		app.codec.Close()
	}
	return app.db.Close()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run executes one command. args are the positional arguments, command
// first.
func (app *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(app.out, Usage)
		return nil
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "serve":
		return app.serve(ctx)
	case "import":
		return app.importFiles(ctx, rest)
	case "summary":
		return app.summary(ctx)
	case "history":
		return app.history(ctx, rest)
	case "export":
		return app.export(ctx, rest)
	case "token":
		return app.token(rest)
	case "pin":
		return app.pin(rest)
	case "help":
		fmt.Fprintln(app.out, Usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (app *App) serve(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting collector...", "pin_configured", app.codec != nil)
	s := transport.NewServer(app.config.EndpointAddrGRPC, app.logger, app.service, app.config.SecretKey)
	return s.Run(ctx)
}

func (app *App) importFiles(ctx context.Context, files []string) error {
	if len(files) == 0 {
		results, err := app.service.ImportDir(ctx, app.config.DropDir)
		for _, r := range results {
			app.printResult(r.Path, r.Result, r.Err)
		}
		return err
	}

	var failed int
	for _, f := range files {
		res, err := app.service.ImportFile(ctx, "file", f)
		app.printResult(f, res, err)
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func (app *App) printResult(path string, res merge.Result, err error) {
	if err != nil {
		fmt.Fprintf(app.out, "%s: %v\n", path, err)
		return
	}
	fmt.Fprintf(app.out, "%s: accepted %d, duplicates %d, rejected %d\n", path, res.Accepted, res.Duplicates, res.Rejected)
}

func (app *App) summary(ctx context.Context) error {
	rows, err := app.service.Summary(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STUDENT\tRECORDS\tMINUTES")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Student, r.Count, strconv.FormatFloat(r.TotalDuration, 'f', -1, 64))
	}
	return tw.Flush()
}

func (app *App) history(ctx context.Context, args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("history: bad limit %q", args[0])
		}
		limit = n
	}

	rows, err := app.service.History(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IMPORTED\tSOURCE\tFILE\tACCEPTED\tDUPLICATES\tREJECTED\tSTATUS")
	for _, b := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", b.ImportedAt, b.Source, b.SourceFile, b.Accepted, b.Duplicates, b.Rejected, b.Status)
	}
	return tw.Flush()
}

func (app *App) export(ctx context.Context, args []string) error {
	var student string
	if len(args) > 0 {
		student = args[0]
	}
	n, err := app.service.Export(ctx, app.out, student)
	if err != nil {
		return err
	}
	app.logger.Info(ctx, "exported", "records", n)
	return nil
}

func (app *App) token(args []string) error {
	if len(args) == 0 {
		return errors.New("token: device id required")
	}
	tok, err := auth.GenerateToken(args[0], []byte(app.config.SecretKey), app.config.TokenValidity)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.out, tok)
	return nil
}

func (app *App) pin(args []string) error {
	if len(args) > 0 && args[0] == "clear" {
		if err := app.creds.Delete(credstore.KeyPIN); err != nil {
			return err
		}
		fmt.Fprintln(app.out, "PIN cleared")
		return nil
	}
	pin, err := prompt.PIN(app.out)
	if err != nil {
		return err
	}
	if err := app.creds.Set(credstore.KeyPIN, pin); err != nil {
		return err
	}
	fmt.Fprintln(app.out, "PIN saved")
	return nil
}
