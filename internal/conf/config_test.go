package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, DatabaseTypeSQLite, s.Database.Type)
	assert.Equal(t, 5, s.Database.TransactionRetries)
	assert.Equal(t, 20*time.Millisecond, s.Database.TransactionBackoff)
	assert.Equal(t, DefaultChunkSize, s.Aggregates.ChunkSize)
	assert.Equal(t, DefaultUserPageSize, s.Aggregates.UserPageSize)
	assert.Equal(t, DefaultBatchSize, s.Migration.BatchSize)
	assert.Equal(t, 500*time.Millisecond, s.Migration.BatchPause)
	assert.Equal(t, UnknownTagPolicyMap, s.Migration.UnknownTagPolicy)
	assert.Equal(t, 2*time.Minute, s.Jobs.LeaseTTL)
	assert.Equal(t, 2*time.Second, s.Jobs.PollInterval)
	assert.Equal(t, DefaultReconcileCron, s.Scheduler.Cron)
	assert.NoError(t, ValidateSettings(s))
}

func TestLoadWith_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  type: sqlite
  sqlite:
    path: /tmp/words.db
migration:
  batch_size: 50
  batch_pause: 1s
  unknown_tag_policy: fail
jobs:
  lease_ttl: 30s
`)

	s, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/words.db", s.Database.SQLite.Path)
	assert.Equal(t, 50, s.Migration.BatchSize)
	assert.Equal(t, time.Second, s.Migration.BatchPause)
	assert.Equal(t, UnknownTagPolicyFail, s.Migration.UnknownTagPolicy)
	assert.Equal(t, 30*time.Second, s.Jobs.LeaseTTL)
	assert.Equal(t, DefaultChunkSize, s.Aggregates.ChunkSize, "unset keys keep defaults")
	assert.Equal(t, path, s.ConfigFile)
}

func TestLoadWith_EnvironmentOverride(t *testing.T) {
	t.Setenv("VOCABSTATS_MIGRATION_BATCH_SIZE", "25")
	t.Setenv("VOCABSTATS_AGGREGATES_DISPLAY_CACHE_TTL", "1m")

	s, err := LoadWith(viper.New(), writeConfig(t, "debug: true\n"))
	require.NoError(t, err)

	assert.True(t, s.Debug)
	assert.Equal(t, 25, s.Migration.BatchSize)
	assert.Equal(t, time.Minute, s.Aggregates.DisplayCacheTTL)
}

func TestLoadWith_InvalidSettings(t *testing.T) {
	path := writeConfig(t, `
database:
  type: postgres
migration:
  batch_size: 0
  unknown_tag_policy: guess
identity:
  provider: http
  http:
    base_url: not-a-url
`)

	_, err := LoadWith(viper.New(), path)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 4)
	assert.Contains(t, err.Error(), "database.type")
	assert.Contains(t, err.Error(), "migration.batch_size")
	assert.Contains(t, err.Error(), "unknown_tag_policy")
	assert.Contains(t, err.Error(), "identity.http.base_url")
}

func TestValidateSettings_ConditionalSections(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Settings)
		errMsg string
	}{
		{"scheduler needs five cron fields", func(s *Settings) {
			s.Scheduler.Enabled = true
			s.Scheduler.Cron = "@daily"
		}, "scheduler.cron"},
		{"notifications need urls", func(s *Settings) {
			s.Notifications.Enabled = true
		}, "notifications.urls"},
		{"sentry needs dsn", func(s *Settings) {
			s.Sentry.Enabled = true
		}, "sentry.dsn"},
		{"mysql needs host", func(s *Settings) {
			s.Database.Type = DatabaseTypeMySQL
			s.Database.MySQL.Host = ""
		}, "database.mysql"},
		{"bad log level", func(s *Settings) {
			s.Logging.Level = "loud"
		}, "logging.level"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.mutate(s)
			err := ValidateSettings(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestSaveYAMLConfig_RoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.Migration.BatchSize = 40
	s.Migration.BatchPause = 250 * time.Millisecond
	s.Scheduler.Enabled = true
	s.Notifications.URLs = []string{"generic://example.com/hook"}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, s))

	loaded, err := LoadWith(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 40, loaded.Migration.BatchSize)
	assert.Equal(t, 250*time.Millisecond, loaded.Migration.BatchPause)
	assert.True(t, loaded.Scheduler.Enabled)
	assert.Equal(t, []string{"generic://example.com/hook"}, loaded.Notifications.URLs)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be renamed away")
}

func TestLoggingSettings_Location(t *testing.T) {
	assert.Equal(t, time.UTC, LoggingSettings{}.Location())
	assert.Equal(t, time.UTC, LoggingSettings{Timezone: "Nowhere/Invalid"}.Location())
	assert.Equal(t, "Europe/Berlin", LoggingSettings{Timezone: "Europe/Berlin"}.Location().String())
}
