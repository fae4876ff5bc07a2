package migrate

import (
	"github.com/spf13/cobra"

	"github.com/lexitally/vocabstats/cmd/internal/jobcmd"
	"github.com/lexitally/vocabstats/internal/conf"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
)

// Command groups the foreground migrations.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run migrations in the foreground",
	}

	cmd.AddCommand(
		jobcmd.Command(settings, jobcmd.Spec{
			Use:   "legacy",
			Short: "Rewrite legacy status tags as numeric levels",
			Long: `Rewrite every word whose status is a legacy tag as its numeric level,
keeping the tag in old_status. Re-running after an interruption is safe.`,
			Kind: entities.JobLegacyStatusMigration,
		}),
		jobcmd.Command(settings, jobcmd.Spec{
			Use:   "all",
			Short: "Clean up, migrate legacy statuses and rebuild every aggregate",
			Kind:  entities.JobMultiStepMigration,
		}),
	)
	return cmd
}
