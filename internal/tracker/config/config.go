// Package config handles configuration for the tracker device: defaults,
// an optional JSON file and command-line flags.
package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the tracker.
//
// The collector access token normally lives in the credential file; the
// AccessToken field only overrides it.
type Config struct {
	DatabasePath    string
	DeviceID        string
	CollectorAddr   string
	AccessToken     string
	CredentialsFile string
	EnvelopeFormat  string
	SendTimeout     time.Duration
	LogLevel        string
	LogFormat       string
}

// LoadDefaults populates c with defaults. The device id defaults to the
// host name.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "tracker.db"
	c.DeviceID = defaultDeviceID()
	c.CollectorAddr = "127.0.0.1:50051"
	c.AccessToken = ""
	c.CredentialsFile = "tracker.creds"
	c.EnvelopeFormat = "fernet"
	c.SendTimeout = 15 * time.Second
	c.LogLevel = "warn"
	c.LogFormat = "text"
}

func defaultDeviceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "device"
}

// LoadConfig applies defaults, then JSON, then flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
