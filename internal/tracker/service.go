// Package tracker is the producing device: it captures records from
// scanned payloads or manual entry, keeps them locally and reports them to
// the collector.
package tracker

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/dmitrijs2005/servicetracker/internal/credstore"
	"github.com/dmitrijs2005/servicetracker/internal/envelope"
	"github.com/dmitrijs2005/servicetracker/internal/filex"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/merge"
	"github.com/dmitrijs2005/servicetracker/internal/records"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/repomanager"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/settings"
	"github.com/dmitrijs2005/servicetracker/internal/syncstate"
)

// ErrNoPIN is returned when an operation needs the envelope PIN and none is
// stored.
var ErrNoPIN = errors.New("no PIN configured")

// Capture is the outcome of storing one record.
type Capture struct {
	Record   records.Record
	Inserted bool
	Warnings []records.Warning
	// Decoded reports whether the input was an envelope.
	Decoded bool
	// Extra lists keys of a freeform payload that were not stored.
	Extra []string
}

type Service struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	engine   *merge.Engine
	machine  *syncstate.Machine
	outbox   *syncstate.Outbox
	creds    credstore.Store
	deviceID string
	format   envelope.Format
	log      logging.Logger
	now      func() time.Time
}

func NewService(db *sql.DB, repos repomanager.RepositoryManager, creds credstore.Store, deviceID string, format envelope.Format, log logging.Logger) *Service {
	m := syncstate.New(db, repos, log)
	return &Service{
		db:       db,
		repos:    repos,
		engine:   merge.New(db, repos, log),
		machine:  m,
		outbox:   syncstate.NewOutbox(m),
		creds:    creds,
		deviceID: deviceID,
		format:   format,
		log:      log.With("module", "tracker"),
		now:      time.Now,
	}
}

// ParseFormat maps a config value onto an envelope format.
func ParseFormat(s string) (envelope.Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fernet", "v1":
		return envelope.FormatFernet, nil
	case "sealed", "sv2", "v2":
		return envelope.FormatSealed, nil
	default:
		return 0, fmt.Errorf("unknown envelope format %q", s)
	}
}

// codec returns a codec for the stored PIN, or nil when none is set. The
// caller must Close it.
func (s *Service) codec(ctx context.Context) (*envelope.Codec, error) {
	pin, err := credstore.Lookup(s.creds, credstore.KeyPIN)
	if err != nil || pin == "" {
		return nil, err
	}
	opts := []envelope.Option{envelope.WithFormat(s.format)}
	if s.format == envelope.FormatSealed {
		salt, err := s.deploymentSalt(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, envelope.WithDeploymentSalt(salt))
	}
	return envelope.NewCodec(pin, opts...), nil
}

// deploymentSalt returns the salt stored in settings, creating it on first
// use.
func (s *Service) deploymentSalt(ctx context.Context) ([]byte, error) {
	repo := s.repos.Settings(s.db)
	v, err := repo.Get(ctx, settings.KeyDeploymentSalt)
	if err != nil {
		return nil, err
	}
	if salt, err := hex.DecodeString(v); err == nil && len(salt) == 16 {
		return salt, nil
	}
	salt := common.GenerateRandByteArray(16)
	if err := repo.Set(ctx, settings.KeyDeploymentSalt, hex.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}

// HasPIN reports whether a PIN is stored.
func (s *Service) HasPIN() (bool, error) {
	pin, err := credstore.Lookup(s.creds, credstore.KeyPIN)
	return pin != "", err
}

func (s *Service) SetPIN(pin string) error {
	return s.creds.Set(credstore.KeyPIN, pin)
}

func (s *Service) ClearPIN() error {
	return s.creds.Delete(credstore.KeyPIN)
}

// Scan stores the record carried by one scanned code. Envelopes are opened
// with the stored PIN; an envelope that cannot be opened is refused rather
// than stored as text.
func (s *Service) Scan(ctx context.Context, raw string) (Capture, error) {
	text := strings.TrimSpace(raw)
	var decoded bool

	if envelope.LooksProtected(text) {
		c, err := s.codec(ctx)
		if err != nil {
			return Capture{}, err
		}
		if c == nil {
			return Capture{}, fmt.Errorf("protected payload: %w", ErrNoPIN)
		}
		pt, err := c.Decode(text)
		c.Close()
		if err != nil {
			s.log.Debug(ctx, "scan could not be decoded")
			return Capture{}, err
		}
		text, decoded = pt, true
	}

	p, warns, err := records.ParsePayload(text)
	if err != nil {
		return Capture{}, err
	}

	capt, err := s.store(ctx, p.Structured(), warns)
	capt.Decoded = decoded
	if ff, ok := p.(records.FreeformPayload); ok {
		capt.Extra = ff.Extra()
	}
	return capt, err
}

// Log stores a manually entered record.
func (s *Service) Log(ctx context.Context, f records.Fields) (Capture, error) {
	return s.store(ctx, f, nil)
}

func (s *Service) store(ctx context.Context, f records.Fields, warns []records.Warning) (Capture, error) {
	f.Student = strings.TrimSpace(f.Student)
	if f.Student == "" {
		return Capture{}, fmt.Errorf("%w: student is required", common.ErrMalformedPayload)
	}
	for _, w := range warns {
		s.log.Warn(ctx, "payload warning", "warning", w.String())
	}

	rec := f.Record(records.FormatTimestamp(s.now()), s.deviceID)

	if err := s.repos.Students(s.db).Add(ctx, rec.Student); err != nil {
		return Capture{}, err
	}
	inserted, err := s.engine.Insert(ctx, rec)
	if err != nil {
		return Capture{}, err
	}
	if !inserted {
		s.log.Info(ctx, "record already captured", "student", rec.Student, "timestamp", rec.Timestamp)
	}
	return Capture{Record: rec, Inserted: inserted, Warnings: warns}, nil
}

func (s *Service) Students(ctx context.Context) ([]string, error) {
	return s.repos.Students(s.db).List(ctx)
}

func (s *Service) AddStudent(ctx context.Context, name string) error {
	return s.repos.Students(s.db).Add(ctx, name)
}

// List returns records for student (everyone when empty), optionally only
// those not yet reported.
func (s *Service) List(ctx context.Context, student string, onlyUnreported bool) ([]records.Record, error) {
	scope := syncstate.Scope{Student: student}
	if onlyUnreported {
		return s.machine.SelectUnreported(ctx, scope)
	}
	return s.machine.SelectAll(ctx, scope)
}

// Send hands the records in scope to sender and marks them reported once
// it succeeds. recipient is remembered as the last one used.
func (s *Service) Send(ctx context.Context, sender syncstate.Sender, recipient, student string, all bool) (syncstate.FlushResult, error) {
	res, err := s.outbox.Flush(ctx, syncstate.Scope{Student: student}, all, sender)
	if err != nil {
		return res, err
	}
	if recipient != "" {
		if err := s.repos.Settings(s.db).Set(ctx, settings.KeyLastRecipient, recipient); err != nil {
			s.log.Warn(ctx, "could not remember recipient", "error", err)
		}
	}
	return res, nil
}

// LastRecipient returns the recipient of the previous successful send.
func (s *Service) LastRecipient(ctx context.Context) (string, error) {
	return s.repos.Settings(s.db).Get(ctx, settings.KeyLastRecipient)
}

// Backup writes every record to path as a batch file. Reported flags are
// not touched.
func (s *Service) Backup(ctx context.Context, path string) (int, error) {
	recs, err := s.machine.SelectAll(ctx, syncstate.AllStudents)
	if err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	if err := records.WriteBatch(&buf, recs); err != nil {
		return 0, err
	}
	if err := filex.WriteFileAtomic(path, buf.Bytes(), 0o640); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Payload renders spec as a v1 payload, wrapped in an envelope when protect
// is set.
func (s *Service) Payload(ctx context.Context, spec records.PayloadSpec, protect bool) (string, error) {
	if spec.Created.IsZero() {
		spec.Created = s.now()
	}
	text, err := records.BuildPayload(spec)
	if err != nil {
		return "", err
	}
	if !protect {
		return text, nil
	}

	c, err := s.codec(ctx)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", ErrNoPIN
	}
	defer c.Close()
	return c.Encode(text)
}

// Counts returns the total and unreported record counts.
func (s *Service) Counts(ctx context.Context) (total, unreported int, err error) {
	all, err := s.machine.SelectAll(ctx, syncstate.AllStudents)
	if err != nil {
		return 0, 0, err
	}
	for _, r := range all {
		if !r.Reported {
			unreported++
		}
	}
	return len(all), unreported, nil
}
