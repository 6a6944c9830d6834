package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/thand-io/azure-sdk/internal/eng"
)

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "List the SDK packages in the repository",
	Long: `Walks the sdk/ tree and lists every package that carries a ci.yml,
with its declared version and owning service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		packages, err := eng.DiscoverPackages(cfg.Root, cfg.Service)
		if err != nil {
			return fmt.Errorf("failed to discover packages: %w", err)
		}

		asJSON, err := cmd.Flags().GetBool("json")
		if err == nil && asJSON {
			return printPackagesJSON(cmd, packages)
		}

		if len(packages) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No packages found")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSERVICE\tVERSION\tDIRECTORY")
		for _, pkg := range packages {
			dir, err := filepath.Rel(cfg.Root, pkg.Dir)
			if err != nil {
				dir = pkg.Dir
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", pkg.Name, pkg.Service, pkg.Version, dir)
		}
		return w.Flush()
	},
}

func printPackagesJSON(cmd *cobra.Command, packages []eng.Package) error {
	type packageInfo struct {
		Name    string `json:"name"`
		Service string `json:"service"`
		Version string `json:"version"`
		Dir     string `json:"dir"`
	}

	out := make([]packageInfo, 0, len(packages))
	for _, pkg := range packages {
		dir, err := filepath.Rel(cfg.Root, pkg.Dir)
		if err != nil {
			dir = pkg.Dir
		}
		out = append(out, packageInfo{
			Name:    pkg.Name,
			Service: pkg.Service,
			Version: pkg.Version,
			Dir:     dir,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal package list: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {

	packagesCmd.Flags().Bool("json", false, "Emit the package list as JSON")

	rootCmd.AddCommand(packagesCmd)
}
