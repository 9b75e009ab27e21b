package collector

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/servicetracker/internal/auth"
	"github.com/dmitrijs2005/servicetracker/internal/collector/config"
	"github.com/dmitrijs2005/servicetracker/internal/credstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T) (*App, *bytes.Buffer, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDSN = filepath.Join(dir, "collector.db")
	c.CredentialsFile = filepath.Join(dir, "creds.json")
	c.DropDir = filepath.Join(dir, "inbox")
	c.ArchiveDir = filepath.Join(dir, "archive")
	c.LogLevel = "error"

	app, err := NewApp(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	var out bytes.Buffer
	app.out = &out
	return app, &out, c
}

func TestRun_ImportSummaryHistoryExport(t *testing.T) {
	app, out, c := newApp(t)
	ctx := context.Background()

	path := filepath.Join(filepath.Dir(c.DatabaseDSN), "batch.csv")
	require.NoError(t, os.WriteFile(path, []byte(batchFile), 0o600))

	require.NoError(t, app.Run(ctx, []string{"import", path}))
	assert.Contains(t, out.String(), "accepted 2, duplicates 0, rejected 1")

	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"import", path}))
	assert.Contains(t, out.String(), "accepted 0, duplicates 2")

	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"summary"}))
	assert.Contains(t, out.String(), "STUDENT")
	assert.Regexp(t, `(?m)^A\s+1\s+30$`, out.String())

	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"history", "1"}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2, "header plus one row")

	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"export", "B"}))
	assert.Contains(t, out.String(), ",B,OT,45,")
	assert.NotContains(t, out.String(), ",A,")
}

func TestRun_ImportDropDir(t *testing.T) {
	app, out, c := newApp(t)
	require.NoError(t, os.MkdirAll(c.DropDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.DropDir, "x.csv"), []byte(batchFile), 0o600))

	require.NoError(t, app.Run(context.Background(), []string{"import"}))
	assert.Contains(t, out.String(), "accepted 2")
	assert.FileExists(t, filepath.Join(c.DropDir, ProcessedDir, "x.csv"))
}

func TestRun_ImportReportsFailures(t *testing.T) {
	app, _, _ := newApp(t)
	err := app.Run(context.Background(), []string{"import", "/does/not/exist.csv"})
	require.Error(t, err)
}

func TestRun_Token(t *testing.T) {
	app, out, c := newApp(t)
	require.NoError(t, app.Run(context.Background(), []string{"token", "tablet-3"}))

	id, err := auth.DeviceIDFromToken(strings.TrimSpace(out.String()), []byte(c.SecretKey))
	require.NoError(t, err)
	assert.Equal(t, "tablet-3", id)

	require.Error(t, app.Run(context.Background(), []string{"token"}))
}

func TestRun_PinClear(t *testing.T) {
	app, out, c := newApp(t)
	store := credstore.NewFile(c.CredentialsFile)
	require.NoError(t, store.Set(credstore.KeyPIN, "1234"))

	require.NoError(t, app.Run(context.Background(), []string{"pin", "clear"}))
	assert.Contains(t, out.String(), "PIN cleared")

	v, err := credstore.Lookup(store, credstore.KeyPIN)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestRun_UsageAndUnknown(t *testing.T) {
	app, out, _ := newApp(t)
	require.NoError(t, app.Run(context.Background(), nil))
	assert.Contains(t, out.String(), "usage: collector")

	require.Error(t, app.Run(context.Background(), []string{"bogus"}))
	require.Error(t, app.Run(context.Background(), []string{"history", "x"}))
}

func TestNewApp_LoadsPIN(t *testing.T) {
	dir := t.TempDir()
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDSN = filepath.Join(dir, "c.db")
	c.CredentialsFile = filepath.Join(dir, "creds.json")
	require.NoError(t, credstore.NewFile(c.CredentialsFile).Set(credstore.KeyPIN, "1234"))

	app, err := NewApp(context.Background(), c)
	require.NoError(t, err)
	defer app.Close()
	assert.NotNil(t, app.codec)
}

func TestNewApp_BadDriver(t *testing.T) {
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDriver = "oracle"
	_, err := NewApp(context.Background(), c)
	require.Error(t, err)
}
