package workbook

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexitally/vocabstats/internal/app"
	"github.com/lexitally/vocabstats/internal/conf"
	"github.com/lexitally/vocabstats/internal/importer"
)

// Command imports words and analysis memberships from an .xlsx workbook.
func Command(settings *conf.Settings) *cobra.Command {
	var opts importer.Options

	cmd := &cobra.Command{
		Use:   "import [file.xlsx]",
		Short: "Import words and analysis memberships from a workbook",
		Long: `Import one word per row from the first sheet (or --sheet) of an .xlsx workbook.

The first row names the columns: word_id, owner_id, status and optionally text
and analysis_id. Status values are stored as given, so legacy tags can be
migrated afterwards with "vocabstats migrate legacy". Aggregates are not
updated; run "vocabstats rebuild analyses" and "vocabstats rebuild learners"
once the import is done.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), settings, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Importer.ImportWorkbook(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&opts.SheetName, "sheet", "", "Sheet to read, defaults to the first sheet")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Validate rows without writing")
	return cmd
}
