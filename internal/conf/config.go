// conf/config.go
package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. VOCABSTATS_DATABASE_TYPE.
const EnvPrefix = "VOCABSTATS"

// Settings contains all configuration options for vocabstats.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Logging       LoggingSettings      `mapstructure:"logging" yaml:"logging"`
	Database      DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Webserver     WebserverSettings    `mapstructure:"webserver" yaml:"webserver"`
	Aggregates    AggregateSettings    `mapstructure:"aggregates" yaml:"aggregates"`
	Migration     MigrationSettings    `mapstructure:"migration" yaml:"migration"`
	Jobs          JobSettings          `mapstructure:"jobs" yaml:"jobs"`
	Identity      IdentitySettings     `mapstructure:"identity" yaml:"identity"`
	Scheduler     SchedulerSettings    `mapstructure:"scheduler" yaml:"scheduler"`
	Notifications NotificationSettings `mapstructure:"notifications" yaml:"notifications"`
	Sentry        SentrySettings       `mapstructure:"sentry" yaml:"sentry"`

	ConfigFile string `mapstructure:"-" yaml:"-"` // path of the file that was read, runtime value
}

// LoggingSettings controls the structured logger.
type LoggingSettings struct {
	Level              string        `mapstructure:"level" yaml:"level"`                               // trace, debug, info, warn, error
	Timezone           string        `mapstructure:"timezone" yaml:"timezone"`                         // IANA name used for log timestamps
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold" yaml:"slow_query_threshold"` // 0 disables slow query warnings
}

// DatabaseSettings selects and configures the record store.
type DatabaseSettings struct {
	Type               string         `mapstructure:"type" yaml:"type"` // sqlite or mysql
	SQLite             SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL              MySQLSettings  `mapstructure:"mysql" yaml:"mysql"`
	TransactionRetries int            `mapstructure:"transaction_retries" yaml:"transaction_retries"`
	TransactionBackoff time.Duration  `mapstructure:"transaction_backoff" yaml:"transaction_backoff"` // base delay, doubled per retry
}

// SQLiteSettings contains settings for the SQLite store.
type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MySQLSettings contains settings for the MySQL store.
type MySQLSettings struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// WebserverSettings configures the HTTP API.
type WebserverSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// AggregateSettings tunes aggregate maintenance and rebuilds.
type AggregateSettings struct {
	ChunkSize          int           `mapstructure:"chunk_size" yaml:"chunk_size"`                   // membership ids per bounded IN query
	RebuildConcurrency int           `mapstructure:"rebuild_concurrency" yaml:"rebuild_concurrency"` // parallel analysis rebuilds
	UserPageSize       int           `mapstructure:"user_page_size" yaml:"user_page_size"`
	DisplayCacheTTL    time.Duration `mapstructure:"display_cache_ttl" yaml:"display_cache_ttl"`
}

// MigrationSettings tunes the legacy status migration.
type MigrationSettings struct {
	BatchSize        int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchPause       time.Duration `mapstructure:"batch_pause" yaml:"batch_pause"`
	UnknownTagPolicy string        `mapstructure:"unknown_tag_policy" yaml:"unknown_tag_policy"` // default or fail
}

// JobSettings configures the job runner.
type JobSettings struct {
	LeaseTTL     time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"` // CLI progress polling
}

// IdentitySettings selects the user directory used by learner rebuilds.
type IdentitySettings struct {
	Provider string               `mapstructure:"provider" yaml:"provider"` // store or http
	HTTP     HTTPIdentitySettings `mapstructure:"http" yaml:"http"`
}

// HTTPIdentitySettings configures the HTTP identity provider.
type HTTPIdentitySettings struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	Token      string        `mapstructure:"token" yaml:"token"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// SchedulerSettings configures periodic reconciliation rebuilds.
type SchedulerSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Cron    string `mapstructure:"cron" yaml:"cron"`
}

// NotificationSettings configures job completion notifications.
type NotificationSettings struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URLs    []string      `mapstructure:"urls" yaml:"urls"` // shoutrrr service URLs
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// Location returns the configured log timezone, falling back to UTC.
func (l LoggingSettings) Location() *time.Location {
	if l.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration into the global viper instance and returns validated settings.
// An explicit configFile takes precedence over the default search paths.
func Load(configFile string) (*Settings, error) {
	return LoadWith(viper.GetViper(), configFile)
}

// LoadWith reads configuration using v. Tests pass viper.New() to avoid global state.
func LoadWith(v *viper.Viper, configFile string) (*Settings, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	settings.ConfigFile = v.ConfigFileUsed()

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		// Running on defaults and environment alone is supported
		return nil
	}
	return fmt.Errorf("fatal error reading config file: %w", err)
}

// loadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are not overridden and a missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "vocabstats"))
	}
	return append(paths, "/etc/vocabstats")
}

// DefaultSettings returns the settings produced by defaults alone.
func DefaultSettings() *Settings {
	v := viper.New()
	setDefaultConfig(v)

	settings := &Settings{}
	// Defaults are static so decoding cannot fail
	_ = v.Unmarshal(settings)
	return settings
}

// SaveYAMLConfig writes settings to configPath atomically.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	// Write to a temporary file in the same directory so the rename is atomic
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
