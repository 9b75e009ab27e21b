package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/servicetracker/internal/flagx"
	"github.com/dmitrijs2005/servicetracker/internal/timex"
)

// JsonConfig is the on-disk shape of the tracker configuration. Absent
// fields keep the current value.
type JsonConfig struct {
	DatabasePath    *string         `json:"database_path"`
	DeviceID        *string         `json:"device_id"`
	CollectorAddr   *string         `json:"collector_addr"`
	AccessToken     *string         `json:"access_token"`
	CredentialsFile *string         `json:"credentials_file"`
	EnvelopeFormat  *string         `json:"envelope_format"`
	SendTimeout     *timex.Duration `json:"send_timeout"`
	LogLevel        *string         `json:"log_level"`
	LogFormat       *string         `json:"log_format"`
}

func parseJson(cfg *Config) error {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	for _, f := range []struct {
		dst *string
		src *string
	}{
		{&cfg.DatabasePath, c.DatabasePath},
		{&cfg.DeviceID, c.DeviceID},
		{&cfg.CollectorAddr, c.CollectorAddr},
		{&cfg.AccessToken, c.AccessToken},
		{&cfg.CredentialsFile, c.CredentialsFile},
		{&cfg.EnvelopeFormat, c.EnvelopeFormat},
		{&cfg.LogLevel, c.LogLevel},
		{&cfg.LogFormat, c.LogFormat},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	if c.SendTimeout != nil {
		cfg.SendTimeout = c.SendTimeout.Duration
	}
	return nil
}
