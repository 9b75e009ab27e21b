// Package config handles configuration for the collector: defaults, an
// optional JSON file and command-line flags, applied in that order.
package config

import "time"

// Config holds runtime settings for the collector.
//
// Fields:
//   - EndpointAddrGRPC: bind address for the ingest endpoint.
//   - DatabaseDriver / DatabaseDSN: "sqlite" with a file path, or "pgx"
//     with a PostgreSQL DSN.
//   - SecretKey: HMAC secret for device access tokens (HS256).
//   - TokenValidity: lifetime of issued tokens; zero means no expiry.
//   - DropDir: directory scanned by "import" when no files are given.
//   - ArchiveDir: local copy of every ingested batch file, used when no
//     bucket is configured.
//   - S3*: object storage for the batch archive. Empty bucket disables it.
//   - CredentialsFile: where the envelope PIN is kept.
type Config struct {
	EndpointAddrGRPC string
	DatabaseDriver   string
	DatabaseDSN      string
	SecretKey        string
	TokenValidity    time.Duration
	DropDir          string
	ArchiveDir       string
	S3RootUser       string
	S3RootPassword   string
	S3Bucket         string
	S3Region         string
	S3BaseEndpoint   string
	CredentialsFile  string
	LogLevel         string
	LogFormat        string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "collector.db"
	c.SecretKey = "secretKey"
	c.TokenValidity = 0
	c.DropDir = "inbox"
	c.ArchiveDir = ""
	c.S3Region = "us-east-1"
	c.CredentialsFile = "collector.creds"
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// LoadConfig applies defaults, then the JSON file named by -c/-config, then
// command-line flags.
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
