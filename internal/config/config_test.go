package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ca-srg/lastmsg/internal/types"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("slack source with defaults", func(t *testing.T) {
		t.Setenv("LASTMSG_SOURCE", "Slack")
		t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")

		cfg, err := Load()
		require.NoError(t, err)

		require.Equal(t, types.SourceSlack, cfg.Source)
		require.Equal(t, 100, cfg.PageSize)
		require.Equal(t, 4, cfg.Concurrency)
		require.Equal(t, 50, cfg.SlackRatePerMinute)
		require.Equal(t, 3, cfg.SlackMaxRetries)
		require.Equal(t, 10*time.Minute, cfg.SearchTimeout)
		require.Equal(t, "lastmsg", cfg.OTelServiceName)
	})

	t.Run("slack source requires token", func(t *testing.T) {
		t.Setenv("LASTMSG_SOURCE", "slack")
		t.Setenv("SLACK_BOT_TOKEN", "")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "SLACK_BOT_TOKEN")
	})

	t.Run("clamps page size and concurrency", func(t *testing.T) {
		t.Setenv("LASTMSG_SOURCE", "archive")
		t.Setenv("LASTMSG_PAGE_SIZE", "5000")
		t.Setenv("LASTMSG_CONCURRENCY", "0")

		cfg, err := Load()
		require.NoError(t, err)

		require.Equal(t, types.SourceArchive, cfg.Source)
		require.Equal(t, 1000, cfg.PageSize)
		require.Equal(t, 1, cfg.Concurrency)
	})

	t.Run("s3 source requires bucket", func(t *testing.T) {
		t.Setenv("LASTMSG_SOURCE", "s3")
		t.Setenv("S3_EXPORT_BUCKET", "")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "S3_EXPORT_BUCKET")
	})

	t.Run("s3 source normalizes prefix", func(t *testing.T) {
		t.Setenv("LASTMSG_SOURCE", "s3")
		t.Setenv("S3_EXPORT_BUCKET", "exports")
		t.Setenv("S3_EXPORT_PREFIX", "/acme/2025/")
		t.Setenv("S3_EXPORT_ENDPOINT", "http://localhost:9000")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, "acme/2025", cfg.S3ExportPrefix)
	})

	t.Run("rejects unknown source", func(t *testing.T) {
		t.Setenv("LASTMSG_SOURCE", "discord")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "LASTMSG_SOURCE")
	})
}

func TestLoadForSource(t *testing.T) {
	t.Run("override replaces the environment source", func(t *testing.T) {
		t.Setenv("LASTMSG_SOURCE", "slack")
		t.Setenv("SLACK_BOT_TOKEN", "")

		cfg, err := LoadForSource("archive")
		require.NoError(t, err)
		require.Equal(t, types.SourceArchive, cfg.Source)
		require.Equal(t, "archive", cfg.SourceStr)
	})

	t.Run("override is validated", func(t *testing.T) {
		t.Setenv("LASTMSG_SOURCE", "archive")
		t.Setenv("S3_EXPORT_BUCKET", "")

		_, err := LoadForSource("s3")
		require.Error(t, err)
		require.Contains(t, err.Error(), "S3_EXPORT_BUCKET")
	})

	t.Run("empty override keeps the environment", func(t *testing.T) {
		t.Setenv("LASTMSG_SOURCE", "archive")

		cfg, err := LoadForSource(" ")
		require.NoError(t, err)
		require.Equal(t, types.SourceArchive, cfg.Source)
	})
}

func TestArchivePath(t *testing.T) {
	custom := filepath.Join(t.TempDir(), "custom.db")
	path, err := ArchivePath(&Config{ArchivePath: custom})
	require.NoError(t, err)
	require.Equal(t, custom, path)

	t.Setenv("HOME", t.TempDir())
	path, err = ArchivePath(&Config{})
	require.NoError(t, err)
	require.Equal(t, "archive.db", filepath.Base(path))
	require.Equal(t, dataDirName, filepath.Base(filepath.Dir(path)))
}

func TestRequireSlackToken(t *testing.T) {
	require.NoError(t, RequireSlackToken(&Config{SlackBotToken: "xoxb-123"}))
	require.Error(t, RequireSlackToken(&Config{SlackBotToken: "xapp-123"}))
	require.Error(t, RequireSlackToken(&Config{SlackBotToken: "  "}))
}
