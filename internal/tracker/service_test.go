package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/dmitrijs2005/servicetracker/internal/credstore"
	"github.com/dmitrijs2005/servicetracker/internal/dbx"
	"github.com/dmitrijs2005/servicetracker/internal/envelope"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/records"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/repomanager"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/settings"
	"github.com/dmitrijs2005/servicetracker/internal/syncstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 4, 9, 30, 0, 0, time.Local)

func newService(t *testing.T, format envelope.Format) (*Service, *credstore.Memory) {
	t.Helper()
	db, repos, err := repomanager.Open(context.Background(), dbx.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	creds := credstore.NewMemory()
	s := NewService(db, repos, creds, "tab-1", format, logging.Discard())
	s.now = func() time.Time { return fixedNow }
	return s, creds
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, envelope.FormatFernet, f)

	f, err = ParseFormat("Sealed")
	require.NoError(t, err)
	assert.Equal(t, envelope.FormatSealed, f)

	_, err = ParseFormat("rot13")
	require.Error(t, err)
}

func TestScan_JSON(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)
	ctx := context.Background()

	c, err := s.Scan(ctx, `{"v":1,"type":"service","student":"Ann","service":"Speech","default_duration":30}`)
	require.NoError(t, err)
	assert.True(t, c.Inserted)
	assert.False(t, c.Decoded)
	assert.Empty(t, c.Warnings)
	assert.Equal(t, "2025-03-04 09:30:00", c.Record.Timestamp)
	assert.Equal(t, "tab-1", c.Record.DeviceID)
	require.NotNil(t, c.Record.Duration)
	assert.Equal(t, 30.0, *c.Record.Duration)

	students, err := s.Students(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann"}, students, "scanned students are added")
}

func TestScan_DelimitedAndDuplicate(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)
	ctx := context.Background()

	c, err := s.Scan(ctx, "Ben,OT,abc,session,75")
	require.NoError(t, err)
	assert.True(t, c.Inserted)
	assert.Nil(t, c.Record.Duration, "unparseable numbers are stored as absent")
	require.NotNil(t, c.Record.Score)
	assert.Equal(t, 75.0, *c.Record.Score)

	c, err = s.Scan(ctx, "Ben,OT,abc,session,75")
	require.NoError(t, err)
	assert.False(t, c.Inserted, "same key within the same second")
}

func TestScan_WarningsAndExtra(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)

	c, err := s.Scan(context.Background(), `{"v":2,"student":"Cy","service":"PT","mood":"good"}`)
	require.NoError(t, err)
	require.Len(t, c.Warnings, 1)
	assert.Equal(t, records.WarnSchemaVersion, c.Warnings[0].Kind)
	assert.Equal(t, []string{"mood"}, c.Extra)
	assert.True(t, c.Inserted)
}

func TestScan_Malformed(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)

	_, err := s.Scan(context.Background(), `{"student":`)
	require.ErrorIs(t, err, common.ErrMalformedPayload)

	_, err = s.Scan(context.Background(), `{"v":1,"service":"x"}`)
	require.ErrorIs(t, err, common.ErrMalformedPayload, "student is required")
}

func TestScan_Protected(t *testing.T) {
	s, creds := newService(t, envelope.FormatFernet)
	ctx := context.Background()

	token, err := envelope.Encode(`{"v":1,"student":"Dee","service":"Speech"}`, "2468")
	require.NoError(t, err)

	_, err = s.Scan(ctx, token)
	require.ErrorIs(t, err, ErrNoPIN)

	require.NoError(t, creds.Set(credstore.KeyPIN, "1111"))
	_, err = s.Scan(ctx, token)
	require.ErrorIs(t, err, common.ErrDecodeFailure)

	require.NoError(t, s.SetPIN("2468"))
	c, err := s.Scan(ctx, token)
	require.NoError(t, err)
	assert.True(t, c.Decoded)
	assert.Equal(t, "Dee", c.Record.Student)
}

func TestLog_Manual(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)
	d := 20.0

	c, err := s.Log(context.Background(), records.Fields{Student: " Eve ", Service: "OT", Duration: &d, GoalID: "G7"})
	require.NoError(t, err)
	assert.Equal(t, "Eve", c.Record.Student)
	assert.Equal(t, "G7", c.Record.GoalID)

	_, err = s.Log(context.Background(), records.Fields{Service: "OT"})
	require.ErrorIs(t, err, common.ErrMalformedPayload)
}

func seed(t *testing.T, s *Service, students ...string) {
	t.Helper()
	for i, st := range students {
		now := fixedNow.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return now }
		_, err := s.Log(context.Background(), records.Fields{Student: st, Service: "Speech"})
		require.NoError(t, err)
	}
	s.now = func() time.Time { return fixedNow }
}

func TestSend_MarksAfterAck(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)
	ctx := context.Background()
	seed(t, s, "A", "B", "A")

	var got []records.Record
	ok := syncstate.SenderFunc(func(_ context.Context, recs []records.Record) error {
		got = recs
		return nil
	})

	res, err := s.Send(ctx, ok, "collector:1", "A", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, int64(2), res.Marked)
	for _, r := range got {
		assert.Equal(t, "A", r.Student)
	}

	last, err := s.LastRecipient(ctx)
	require.NoError(t, err)
	assert.Equal(t, "collector:1", last)

	_, err = s.Send(ctx, ok, "collector:1", "A", false)
	require.ErrorIs(t, err, syncstate.ErrNothingToSend)

	res, err = s.Send(ctx, ok, "collector:1", "A", true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, int64(0), res.Marked, "resending everything changes no flags")
}

func TestSend_FailureMarksNothing(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)
	ctx := context.Background()
	seed(t, s, "A", "B")

	fail := syncstate.SenderFunc(func(context.Context, []records.Record) error { return errors.New("offline") })
	_, err := s.Send(ctx, fail, "collector:1", "", false)
	require.Error(t, err)

	total, unreported, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, unreported)

	last, err := s.LastRecipient(ctx)
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestBackup(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)
	ctx := context.Background()
	seed(t, s, "A", "B")

	path := filepath.Join(t.TempDir(), "backup.csv")
	n, err := s.Backup(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	b, err := records.ParseBatch(f)
	require.NoError(t, err)
	assert.Len(t, b.Rows, 2)

	_, unreported, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, unreported, "backup leaves flags alone")
}

func TestPayload_Plain(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)

	text, err := s.Payload(context.Background(), records.PayloadSpec{Student: "Ann", Service: "Speech"}, false)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1,"type":"service","student":"Ann","service":"Speech","default_duration":30,"created":"2025-03-04T09:30:00"}`, text)

	_, err = s.Payload(context.Background(), records.PayloadSpec{Student: "Ann"}, true)
	require.ErrorIs(t, err, ErrNoPIN)
}

func TestPayload_ProtectedRoundTrip(t *testing.T) {
	for _, f := range []envelope.Format{envelope.FormatFernet, envelope.FormatSealed} {
		t.Run(f.String(), func(t *testing.T) {
			s, _ := newService(t, f)
			ctx := context.Background()
			require.NoError(t, s.SetPIN("1234"))

			token, err := s.Payload(ctx, records.PayloadSpec{Student: "Ann", Service: "Speech"}, true)
			require.NoError(t, err)
			assert.Equal(t, f == envelope.FormatSealed, strings.HasPrefix(token, "sv2."))

			c, err := s.Scan(ctx, token)
			require.NoError(t, err)
			assert.True(t, c.Decoded)
			assert.Equal(t, "Ann", c.Record.Student)
		})
	}
}

func TestDeploymentSalt_Persisted(t *testing.T) {
	s, _ := newService(t, envelope.FormatSealed)
	ctx := context.Background()

	first, err := s.deploymentSalt(ctx)
	require.NoError(t, err)
	second, err := s.deploymentSalt(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, err := s.repos.Settings(s.db).Get(ctx, settings.KeyDeploymentSalt)
	require.NoError(t, err)
	assert.Len(t, stored, 32)
}

func TestPIN_SetClear(t *testing.T) {
	s, _ := newService(t, envelope.FormatFernet)

	has, err := s.HasPIN()
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.SetPIN("1234"))
	has, _ = s.HasPIN()
	assert.True(t, has)

	require.NoError(t, s.ClearPIN())
	has, _ = s.HasPIN()
	assert.False(t, has)
}
