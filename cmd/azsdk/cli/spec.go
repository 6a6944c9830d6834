package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thand-io/azure-sdk/internal/eng"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Work with the OpenAPI documents clients are written against",
}

var specValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate an OpenAPI document against the repository rules",
	Long: `Loads an OpenAPI document, validates it structurally, and checks the
repository rules: every operation must carry an operationId and a version
parameter (an api-version query parameter or an x-ms-version header).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := eng.ValidateSpec(args[0])
		if err != nil {
			return fmt.Errorf("failed to validate %s: %w", args[0], err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, api-version %s): %d operation(s)\n",
			report.Path, report.Title, report.Version, report.Operations)

		if !report.OK() {
			for _, problem := range report.Problems {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", problem)
			}
			return fmt.Errorf("%d problem(s) found", len(report.Problems))
		}

		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	},
}

func init() {

	specCmd.AddCommand(specValidateCmd)
	rootCmd.AddCommand(specCmd)
}
