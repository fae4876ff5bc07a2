// Package jobcmd builds the commands that run one job in the foreground.
package jobcmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexitally/vocabstats/internal/app"
	"github.com/lexitally/vocabstats/internal/conf"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
)

// Spec describes one job command.
type Spec struct {
	Use   string
	Short string
	Long  string
	Kind  entities.JobKind
}

// Command runs spec.Kind under its lease, prints progress to stderr and the
// final progress document to stdout.
func Command(settings *conf.Settings, spec Spec) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   spec.Use,
		Short: spec.Short,
		Long:  spec.Long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), settings, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			progressOut := cmd.ErrOrStderr()
			if quiet {
				progressOut = nil
			}
			progress, err := a.RunJob(cmd.Context(), spec.Kind, progressOut)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(progress)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress while running")
	return cmd
}
