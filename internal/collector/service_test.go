package collector

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/archive"
	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/dmitrijs2005/servicetracker/internal/dbx"
	"github.com/dmitrijs2005/servicetracker/internal/envelope"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/merge"
	"github.com/dmitrijs2005/servicetracker/internal/records"
	"github.com/dmitrijs2005/servicetracker/internal/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchFile = `ID,Timestamp,Student,Service,Duration,Event,Score,Goal_ID,Device_ID,Reported
1,2025-01-01 10:00:00,A,Speech,30,session,80,,tab-1,0
2,2025-01-01 11:00:00,B,OT,45,,,,tab-1,0
3,short,row
`

type failingArchiver struct{}

func (failingArchiver) Put(context.Context, string, []byte) (string, error) {
	return "", errors.New("bucket gone")
}

func newService(t *testing.T, arch archive.Archiver, dec merge.Decoder) *Service {
	t.Helper()
	db, repos, err := repomanager.Open(context.Background(), dbx.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewService(db, repos, merge.New(db, repos, logging.Discard()), arch, dec, logging.Discard())
	s.now = func() time.Time { return time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestIngest_ArchivesOriginal(t *testing.T) {
	root := t.TempDir()
	dir := archive.NewDir(root)
	s := newService(t, dir, nil)

	res, err := s.Ingest(context.Background(), merge.Source{Name: "dev"}, []byte(batchFile))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.Rejected)

	key := archive.ObjectKey(s.now(), res.BatchID)
	assert.True(t, dir.Exists(key))
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, batchFile, string(b))
}

func TestIngest_ArchiveFailureKeepsMerge(t *testing.T) {
	s := newService(t, failingArchiver{}, nil)

	res, err := s.Ingest(context.Background(), merge.Source{Name: "dev"}, []byte(batchFile))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)

	sum, err := s.Summary(context.Background())
	require.NoError(t, err)
	assert.Len(t, sum, 2)
}

func TestIngest_DecodesProtectedCells(t *testing.T) {
	codec := envelope.NewCodec("1234")
	student, err := codec.Encode("Alice")
	require.NoError(t, err)

	file := "ID,Timestamp,Student,Service,Duration,Event,Score,Goal_ID,Device_ID,Reported\n" +
		"1,2025-01-01 10:00:00," + student + ",Speech,30,,,,d,0\n"

	s := newService(t, nil, codec)
	_, err = s.Ingest(context.Background(), merge.Source{Name: "dev"}, []byte(file))
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := s.Export(context.Background(), &out, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImportDir_MovesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte(batchFile), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("id,too,short\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	s := newService(t, nil, nil)
	results, err := s.ImportDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].Result.Accepted)
	assert.ErrorIs(t, results[1].Err, common.ErrMalformedBatch)

	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "a.csv"))
	assert.FileExists(t, filepath.Join(dir, RejectedDir, "b.csv"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "a.csv"))

	hist, err := s.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, hist, 1, "a malformed file leaves no ledger row")
	assert.Equal(t, "dropdir", hist[0].Source)
	assert.Equal(t, "a.csv", hist[0].SourceFile)
}

func TestImportDir_Twice(t *testing.T) {
	dir := t.TempDir()
	s := newService(t, nil, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte(batchFile), 0o600))
	_, err := s.ImportDir(context.Background(), dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "again.csv"), []byte(batchFile), 0o600))
	results, err := s.ImportDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Result.Accepted)
	assert.Equal(t, 2, results[0].Result.Duplicates)
}

func TestImportFile_Missing(t *testing.T) {
	s := newService(t, nil, nil)
	_, err := s.ImportFile(context.Background(), "file", filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}

func TestExport_RoundTrips(t *testing.T) {
	s := newService(t, nil, nil)
	_, err := s.Ingest(context.Background(), merge.Source{Name: "dev"}, []byte(batchFile))
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := s.Export(context.Background(), &out, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := records.ParseBatch(strings.NewReader(out.String()))
	require.NoError(t, err)
	require.Len(t, b.Rows, 2)
	assert.Equal(t, "A", b.Rows[0].Student)
	assert.Equal(t, "B", b.Rows[1].Student)
}
