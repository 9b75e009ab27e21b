package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/servicetracker/internal/flagx"
)

// ValueFlags lists every flag that takes a value, the JSON config flags
// first.
var ValueFlags = []string{"-c", "-config", "-d", "-i", "-a", "-t", "-k", "-f", "-l"}

// parseFlags populates Config from command-line flags.
//
//	-d string   sqlite database file
//	-i string   device id stamped on captured records
//	-a string   collector address (host:port)
//	-t string   collector access token
//	-k string   credentials file
//	-f string   envelope format for new payloads: fernet or sealed
//	-l string   log level
func parseFlags(cfg *Config) error {
	args := flagx.FilterArgs(os.Args[1:], ValueFlags[2:])

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "database file")
	fs.StringVar(&cfg.DeviceID, "i", cfg.DeviceID, "device id")
	fs.StringVar(&cfg.CollectorAddr, "a", cfg.CollectorAddr, "address and port of the collector")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "collector access token")
	fs.StringVar(&cfg.CredentialsFile, "k", cfg.CredentialsFile, "credentials file")
	fs.StringVar(&cfg.EnvelopeFormat, "f", cfg.EnvelopeFormat, "envelope format (fernet|sealed)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	return fs.Parse(args)
}
