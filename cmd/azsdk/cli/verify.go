package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thand-io/azure-sdk/internal/eng"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the CI checks each package's ci.yml enables",
	Long: `Runs the enabled checks for every discovered package: semver validity
and version.go agreement, doc.go presence, and OpenAPI contract rules.
Exits non-zero when any check fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		packages, err := eng.DiscoverPackages(cfg.Root, cfg.Service)
		if err != nil {
			return fmt.Errorf("failed to discover packages: %w", err)
		}
		if len(packages) == 0 {
			return fmt.Errorf("no packages found under %s", cfg.Root)
		}

		failures := 0
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PACKAGE\tCHECK\tRESULT\tDETAIL")
		for _, pkg := range packages {
			results := eng.VerifyPackage(pkg)
			if len(results) == 0 {
				logrus.WithField("package", pkg.Name).Debugln("no checks enabled")
				continue
			}
			for _, result := range results {
				status := "ok"
				if !result.OK {
					status = "FAIL"
					failures++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", result.Package, result.Check, status, result.Detail)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if failures > 0 {
			return fmt.Errorf("%d check(s) failed", failures)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nAll checks passed for %d package(s)\n", len(packages))
		return nil
	},
}

func init() {

	rootCmd.AddCommand(verifyCmd)
}
