// conf/validate.go
package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lexitally/vocabstats/internal/logger"
)

// ValidationError collects every problem found in the settings.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface for ValidationError
func (v ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", strings.Join(v.Errors, "; "))
}

// ValidateSettings validates all sections and returns a ValidationError listing every failure.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateLoggingSettings,
		validateDatabaseSettings,
		validateAggregateSettings,
		validateMigrationSettings,
		validateJobSettings,
		validateIdentitySettings,
		validateSchedulerSettings,
		validateNotificationSettings,
		validateSentrySettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLoggingSettings(s *Settings) []string {
	switch logger.LogLevel(strings.ToLower(s.Logging.Level)) {
	case logger.LogLevelTrace, logger.LogLevelDebug, logger.LogLevelInfo, logger.LogLevelWarn, logger.LogLevelError:
		return nil
	}
	return []string{fmt.Sprintf("logging.level %q must be one of trace, debug, info, warn, error", s.Logging.Level)}
}

func validateDatabaseSettings(s *Settings) []string {
	var errs []string
	db := s.Database

	switch db.Type {
	case DatabaseTypeSQLite:
		if db.SQLite.Path == "" {
			errs = append(errs, "database.sqlite.path is required for sqlite")
		}
	case DatabaseTypeMySQL:
		if db.MySQL.Host == "" || db.MySQL.Database == "" || db.MySQL.Username == "" {
			errs = append(errs, "database.mysql host, database and username are required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.type %q must be sqlite or mysql", db.Type))
	}

	if db.TransactionRetries < 0 {
		errs = append(errs, "database.transaction_retries must not be negative")
	}
	return errs
}

func validateAggregateSettings(s *Settings) []string {
	var errs []string
	a := s.Aggregates

	if a.ChunkSize < 1 {
		errs = append(errs, "aggregates.chunk_size must be at least 1")
	}
	if a.RebuildConcurrency < 1 {
		errs = append(errs, "aggregates.rebuild_concurrency must be at least 1")
	}
	if a.UserPageSize < 1 {
		errs = append(errs, "aggregates.user_page_size must be at least 1")
	}
	if a.DisplayCacheTTL < 0 {
		errs = append(errs, "aggregates.display_cache_ttl must not be negative")
	}
	return errs
}

func validateMigrationSettings(s *Settings) []string {
	var errs []string
	m := s.Migration

	if m.BatchSize < 1 {
		errs = append(errs, "migration.batch_size must be at least 1")
	}
	if m.BatchPause < 0 {
		errs = append(errs, "migration.batch_pause must not be negative")
	}
	if m.UnknownTagPolicy != UnknownTagPolicyMap && m.UnknownTagPolicy != UnknownTagPolicyFail {
		errs = append(errs, fmt.Sprintf("migration.unknown_tag_policy %q must be %q or %q",
			m.UnknownTagPolicy, UnknownTagPolicyMap, UnknownTagPolicyFail))
	}
	return errs
}

func validateJobSettings(s *Settings) []string {
	var errs []string
	if s.Jobs.LeaseTTL <= 0 {
		errs = append(errs, "jobs.lease_ttl must be positive")
	}
	if s.Jobs.PollInterval <= 0 {
		errs = append(errs, "jobs.poll_interval must be positive")
	}
	return errs
}

func validateIdentitySettings(s *Settings) []string {
	switch s.Identity.Provider {
	case IdentityProviderStore:
		return nil
	case IdentityProviderRemote:
		u, err := url.Parse(s.Identity.HTTP.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return []string{fmt.Sprintf("identity.http.base_url %q must be an absolute URL", s.Identity.HTTP.BaseURL)}
		}
		if s.Identity.HTTP.MaxRetries < 0 {
			return []string{"identity.http.max_retries must not be negative"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("identity.provider %q must be store or http", s.Identity.Provider)}
	}
}

func validateSchedulerSettings(s *Settings) []string {
	if s.Scheduler.Enabled && len(strings.Fields(s.Scheduler.Cron)) != 5 {
		return []string{fmt.Sprintf("scheduler.cron %q must be a five-field cron expression", s.Scheduler.Cron)}
	}
	return nil
}

func validateNotificationSettings(s *Settings) []string {
	if s.Notifications.Enabled && len(s.Notifications.URLs) == 0 {
		return []string{"notifications.urls must list at least one URL when notifications are enabled"}
	}
	return nil
}

func validateSentrySettings(s *Settings) []string {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return []string{"sentry.dsn is required when sentry is enabled"}
	}
	return nil
}
