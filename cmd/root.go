// Package cmd assembles the vocabstats command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lexitally/vocabstats/cmd/config"
	"github.com/lexitally/vocabstats/cmd/migrate"
	"github.com/lexitally/vocabstats/cmd/notify"
	"github.com/lexitally/vocabstats/cmd/rebuild"
	"github.com/lexitally/vocabstats/cmd/schema"
	"github.com/lexitally/vocabstats/cmd/serve"
	"github.com/lexitally/vocabstats/cmd/workbook"
	"github.com/lexitally/vocabstats/internal/conf"
)

// RootCommand creates and returns the root command. Subcommands read the
// settings through the pointer, which PersistentPreRunE fills before they run.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "vocabstats",
		Short:         "Vocabulary status aggregates, rebuilds and migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml")
	if err := setupFlags(rootCmd); err != nil {
		panic(err)
	}

	schemaCmd := schema.Command()
	configCmd := config.Command()

	rootCmd.AddCommand(
		serve.Command(settings),
		migrate.Command(settings),
		rebuild.Command(settings),
		workbook.Command(settings),
		notify.Command(settings),
		schemaCmd,
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// schema and config work without a loaded configuration
		if cmd == schemaCmd || cmd.Parent() == configCmd {
			return nil
		}
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}

// setupFlags defines global flags and binds them to their configuration keys.
func setupFlags(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flags.String("database-type", "", "Record store: sqlite or mysql")
	flags.String("sqlite-path", "", "Path to the SQLite database")

	if err := viper.BindPFlags(flags); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	for key, flag := range map[string]string{
		"logging.level":        "log-level",
		"database.type":        "database-type",
		"database.sqlite.path": "sqlite-path",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
