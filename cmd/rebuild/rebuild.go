package rebuild

import (
	"github.com/spf13/cobra"

	"github.com/lexitally/vocabstats/cmd/internal/jobcmd"
	"github.com/lexitally/vocabstats/internal/conf"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
)

// Command groups the foreground aggregate rebuilds.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute aggregates from the word records",
	}

	cmd.AddCommand(
		jobcmd.Command(settings, jobcmd.Spec{
			Use:   "analyses",
			Short: "Rebuild the aggregate of every analysis",
			Kind:  entities.JobAnalysisAggregateRebuild,
		}),
		jobcmd.Command(settings, jobcmd.Spec{
			Use:   "learners",
			Short: "Rebuild the aggregate of every learner listed by the identity provider",
			Kind:  entities.JobLearnerAggregateRebuild,
		}),
	)
	return cmd
}
