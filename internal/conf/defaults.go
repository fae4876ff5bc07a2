// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with code that runs without a loaded config.
const (
	DefaultChunkSize       = 10
	DefaultUserPageSize    = 1000
	DefaultBatchSize       = 10
	DefaultBatchPause      = 500 * time.Millisecond
	DefaultLeaseTTL        = 2 * time.Minute
	DefaultPollInterval    = 2 * time.Second
	DefaultReconcileCron   = "0 3 * * *"
	UnknownTagPolicyMap    = "default"
	UnknownTagPolicyFail   = "fail"
	DatabaseTypeSQLite     = "sqlite"
	DatabaseTypeMySQL      = "mysql"
	IdentityProviderStore  = "store"
	IdentityProviderRemote = "http"
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.timezone", "UTC")
	v.SetDefault("logging.slow_query_threshold", 200*time.Millisecond)

	v.SetDefault("database.type", DatabaseTypeSQLite)
	v.SetDefault("database.sqlite.path", "vocabstats.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", "3306")
	v.SetDefault("database.mysql.username", "vocabstats")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "vocabstats")
	v.SetDefault("database.transaction_retries", 5)
	v.SetDefault("database.transaction_backoff", 20*time.Millisecond)

	v.SetDefault("webserver.listen", ":8080")

	v.SetDefault("aggregates.chunk_size", DefaultChunkSize)
	v.SetDefault("aggregates.rebuild_concurrency", 4)
	v.SetDefault("aggregates.user_page_size", DefaultUserPageSize)
	v.SetDefault("aggregates.display_cache_ttl", 30*time.Second)

	v.SetDefault("migration.batch_size", DefaultBatchSize)
	v.SetDefault("migration.batch_pause", DefaultBatchPause)
	v.SetDefault("migration.unknown_tag_policy", UnknownTagPolicyMap)

	v.SetDefault("jobs.lease_ttl", DefaultLeaseTTL)
	v.SetDefault("jobs.poll_interval", DefaultPollInterval)

	v.SetDefault("identity.provider", IdentityProviderStore)
	v.SetDefault("identity.http.base_url", "")
	v.SetDefault("identity.http.token", "")
	v.SetDefault("identity.http.timeout", 10*time.Second)
	v.SetDefault("identity.http.max_retries", 3)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.cron", DefaultReconcileCron)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.urls", []string{})
	v.SetDefault("notifications.timeout", 10*time.Second)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}
