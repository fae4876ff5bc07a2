package serve

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lexitally/vocabstats/internal/app"
	"github.com/lexitally/vocabstats/internal/conf"
)

// Command runs the HTTP API and the reconciliation scheduler.
func Command(settings *conf.Settings) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconciliation scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				settings.Webserver.Listen = listen
			}
			a, err := app.New(cmd.Context(), settings, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address, overrides webserver.listen")
	return cmd
}
