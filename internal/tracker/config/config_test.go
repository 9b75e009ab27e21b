package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	old := os.Args
	os.Args = append([]string{"tracker"}, args...)
	t.Cleanup(func() { os.Args = old })
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "tracker.db", c.DatabasePath)
	assert.NotEmpty(t, c.DeviceID)
	assert.Equal(t, "127.0.0.1:50051", c.CollectorAddr)
	assert.Equal(t, "fernet", c.EnvelopeFormat)
	assert.Equal(t, 15*time.Second, c.SendTimeout)
}

func TestParseFlags(t *testing.T) {
	withArgs(t, "-d", "/data/t.db", "-i", "tab-9", "-a", "10.0.0.1:1", "-t", "tok", "-k", "/k", "-f", "sealed", "-l", "debug", "scan", "x")

	var c Config
	c.LoadDefaults()
	require.NoError(t, parseFlags(&c))

	want := Config{}
	want.LoadDefaults()
	want.DatabasePath = "/data/t.db"
	want.DeviceID = "tab-9"
	want.CollectorAddr = "10.0.0.1:1"
	want.AccessToken = "tok"
	want.CredentialsFile = "/k"
	want.EnvelopeFormat = "sealed"
	want.LogLevel = "debug"

	assert.Empty(t, cmp.Diff(want, c))
}

func TestLoadConfig_JSONThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device_id":"json-dev","send_timeout":"3s","collector_addr":"json:1"}`), 0o600))
	withArgs(t, "-config", path, "-a", "flag:2")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "json-dev", c.DeviceID)
	assert.Equal(t, 3*time.Second, c.SendTimeout)
	assert.Equal(t, "flag:2", c.CollectorAddr)
}

func TestLoadConfig_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))
	withArgs(t, "-c", path)

	_, err := LoadConfig()
	require.Error(t, err)
}
