package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/flagx"
)

// ValueFlags lists every flag that takes a value, including the JSON config
// flags. Commands use it to find their positional arguments.
var ValueFlags = []string{"-c", "-config", "-a", "-d", "-r", "-s", "-t", "-w", "-o", "-u", "-p", "-b", "-g", "-e", "-k", "-l"}

// parseFlags populates Config from command-line flags.
//
//	-a string   gRPC bind address (e.g. ":50051")
//	-d string   database DSN or sqlite file
//	-r string   database driver: sqlite or pgx
//	-s string   JWT HMAC secret key
//	-t int      issued token validity, minutes (0 = no expiry)
//	-w string   drop directory for import
//	-o string   local archive directory
//	-u string   S3 user
//	-p string   S3 password
//	-b string   S3 bucket
//	-g string   S3 region
//	-e string   S3 endpoint
//	-k string   credentials file
//	-l string   log level
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:], ValueFlags[2:])

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DatabaseDriver, "r", config.DatabaseDriver, "database driver (sqlite|pgx)")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	tokenValidity := fs.Int("t", int(config.TokenValidity.Minutes()), "issued token validity (in minutes)")
	fs.StringVar(&config.DropDir, "w", config.DropDir, "drop directory")
	fs.StringVar(&config.ArchiveDir, "o", config.ArchiveDir, "local archive directory")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.CredentialsFile, "k", config.CredentialsFile, "credentials file")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.TokenValidity = time.Duration(*tokenValidity) * time.Minute
	return nil
}
