package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ca-srg/lastmsg/internal/types"
	env "github.com/netflix/go-env"
)

// Type alias for Config
type Config = types.Config

const dataDirName = ".lastmsg"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return LoadForSource("")
}

// LoadForSource loads configuration like Load, with a non-empty source taking the place
// of LASTMSG_SOURCE before validation.
func LoadForSource(source string) (*Config, error) {
	var config Config

	_, err := env.UnmarshalFromEnviron(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if strings.TrimSpace(source) != "" {
		config.SourceStr = source
	}

	config.Source = types.Source(strings.ToLower(strings.TrimSpace(config.SourceStr)))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values and adjusts them to safe ranges
func validateConfig(config *Config) error {
	// Validate concurrency limits
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.Concurrency > 20 {
		config.Concurrency = 20
	}

	if config.PageSize < 1 {
		config.PageSize = 1
	}
	if config.PageSize > 1000 {
		config.PageSize = 1000
	}

	if config.SearchTimeout < 0 {
		return fmt.Errorf("LASTMSG_SEARCH_TIMEOUT cannot be negative")
	}

	switch config.Source {
	case types.SourceSlack:
		if err := validateSlackConfig(config); err != nil {
			return fmt.Errorf("Slack configuration validation failed: %w", err)
		}
	case types.SourceArchive:
	case types.SourceS3:
		if err := validateS3ExportConfig(config); err != nil {
			return fmt.Errorf("S3 export configuration validation failed: %w", err)
		}
	default:
		return fmt.Errorf("LASTMSG_SOURCE must be one of slack, archive, s3 (got %q)", config.SourceStr)
	}

	return nil
}

// validateS3ExportConfig validates the S3 export location
func validateS3ExportConfig(config *Config) error {
	if strings.TrimSpace(config.S3ExportBucket) == "" {
		return fmt.Errorf("S3_EXPORT_BUCKET is required when LASTMSG_SOURCE=s3")
	}

	if config.S3ExportRegion == "" {
		config.S3ExportRegion = "us-east-1"
	}

	if config.S3ExportEndpoint != "" {
		parsedURL, err := url.Parse(config.S3ExportEndpoint)
		if err != nil {
			return fmt.Errorf("invalid S3_EXPORT_ENDPOINT URL format: %w", err)
		}
		if !strings.HasPrefix(parsedURL.Scheme, "http") {
			return fmt.Errorf("S3_EXPORT_ENDPOINT scheme must be http or https")
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("S3_EXPORT_ENDPOINT must include a valid host")
		}
	}

	config.S3ExportPrefix = strings.Trim(config.S3ExportPrefix, "/")
	return nil
}

// ArchivePath returns the configured archive database path, defaulting to ~/.lastmsg/archive.db.
func ArchivePath(config *Config) (string, error) {
	if config != nil && config.ArchivePath != "" {
		return config.ArchivePath, nil
	}
	return defaultDataPath("archive.db")
}

// StatsPath returns the configured stats database path, defaulting to ~/.lastmsg/stats.db.
func StatsPath(config *Config) (string, error) {
	if config != nil && config.StatsPath != "" {
		return config.StatsPath, nil
	}
	return defaultDataPath("stats.db")
}

func defaultDataPath(name string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	dir := filepath.Join(homeDir, dataDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", dataDirName, err)
	}

	return filepath.Join(dir, name), nil
}
