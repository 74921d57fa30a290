package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/geocrypt/internal/flagx"
)

var knownFlags = []string{"-a", "-d", "-s", "-t", "-k", "-u", "-p", "-b", "-g", "-e", "-q", "-j", "-l", "-o", "-m", "-v"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8000")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-k string   primary blob backend: s3 or gcs
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-q string   GCS bucket name
//	-j string   GCS service account credentials file
//	-l string   local fallback storage directory
//	-o duration per-tier storage timeout (e.g., "5s")
//	-m int      max upload size, bytes
//	-v string   log level
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.PrimaryBackend, "k", config.PrimaryBackend, "primary blob backend (s3|gcs)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.GCSBucket, "q", config.GCSBucket, "GCS bucket")
	fs.StringVar(&config.GCSCredentialsFile, "j", config.GCSCredentialsFile, "GCS credentials file")
	fs.StringVar(&config.LocalStorageDir, "l", config.LocalStorageDir, "local fallback storage directory")
	fs.DurationVar(&config.StorageTimeout, "o", config.StorageTimeout, "per-tier storage timeout")
	fs.Int64Var(&config.MaxUploadSize, "m", config.MaxUploadSize, "max upload size in bytes")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
}
