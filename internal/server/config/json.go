package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/geocrypt/internal/flagx"
	"github.com/dmitrijs2005/geocrypt/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept
// "10s"-style strings or integer nanoseconds. Absent fields keep the value
// already in Config.
type JsonConfig struct {
	EndpointAddrHTTP            *string         `json:"endpoint_addr_http"`
	DatabaseDSN                 *string         `json:"database_dsn"`
	SecretKey                   *string         `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	PrimaryBackend              *string         `json:"primary_backend"`
	S3RootUser                  *string         `json:"s3_root_user"`
	S3RootPassword              *string         `json:"s3_root_password"`
	S3Bucket                    *string         `json:"s3_bucket"`
	S3Region                    *string         `json:"s3_region"`
	S3BaseEndpoint              *string         `json:"s3_base_endpoint"`
	GCSBucket                   *string         `json:"gcs_bucket"`
	GCSCredentialsFile          *string         `json:"gcs_credentials_file"`
	LocalStorageDir             *string         `json:"local_storage_dir"`
	StorageTimeout              *timex.Duration `json:"storage_timeout"`
	MaxUploadSize               *int64          `json:"max_upload_size"`
	LogLevel                    *string         `json:"log_level"`
}

// parseJson overlays values from the JSON file named by -c/-config (or
// $GEOCRYPT_CONFIG). No path means nothing to do. An unreadable file or
// invalid JSON panics: the server must not start on a half-read config.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	setString(&config.PrimaryBackend, c.PrimaryBackend)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.GCSBucket, c.GCSBucket)
	setString(&config.GCSCredentialsFile, c.GCSCredentialsFile)
	setString(&config.LocalStorageDir, c.LocalStorageDir)
	if c.StorageTimeout != nil {
		config.StorageTimeout = c.StorageTimeout.Duration
	}
	if c.MaxUploadSize != nil {
		config.MaxUploadSize = *c.MaxUploadSize
	}
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
