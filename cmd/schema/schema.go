package schema

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	api "github.com/lexitally/vocabstats/internal/api/v1"
)

// Command prints the JSON Schema of the progress document and API responses.
func Command() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the progress document and API responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schemas := api.Schemas()

			var out any = schemas
			if name != "" {
				s, ok := schemas[name]
				if !ok {
					return fmt.Errorf("unknown schema %q, available: %v", name, slices.Sorted(maps.Keys(schemas)))
				}
				out = s
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Print only this schema, e.g. job_progress")
	return cmd
}
