package notify

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexitally/vocabstats/internal/conf"
	"github.com/lexitally/vocabstats/internal/logger"
	inotify "github.com/lexitally/vocabstats/internal/notify"
)

// Command returns a cobra command that sends a test message through the
// configured notification services.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		title   string
		message string
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification",
		Long: `Send a test message to every URL in notifications.urls.

Examples:
  vocabstats notify
  vocabstats notify --title="Nightly rebuild" --message="hello"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewSlogLogger(os.Stderr, logger.LogLevel(settings.Logging.Level), settings.Logging.Location())
			n, err := inotify.New(inotify.Config{
				Enabled: true,
				URLs:    settings.Notifications.URLs,
				Timeout: settings.Notifications.Timeout,
				Logger:  log,
			})
			if err != nil {
				return err
			}
			if err := n.Send(title, message); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "notification sent to %d service(s)\n", len(settings.Notifications.URLs))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "vocabstats test notification", "Message title")
	cmd.Flags().StringVar(&message, "message", "Notifications are working.", "Message body")
	return cmd
}
