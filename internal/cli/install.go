package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/pkgfs-project/pkgfsd/pkg/color"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/pkgfs-project/pkgfsd/pkg/pkgfsd"
	"github.com/spf13/cobra"
)

var (
	installLocation   string
	installDeactivate []string
	installKeepTx     bool
	uninstallLocation string
)

var installCmd = &cobra.Command{
	Use:   "install <package-file>...",
	Short: "Activate package files",
	Long: `Activate package files in one transaction.

The files are copied into a new transaction directory of the location and
committed together with the deactivation of any --deactivate packages.

Examples:
  pkgfsd install ./app-1.0-1.hpkg
  pkgfsd install -l home ./app-1.1-1.hpkg --deactivate app-1.0-1.hpkg`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		loc := requireLocation(installLocation)
		client := requireClient(cfg)
		defer client.Close()

		res, err := client.Install(context.Background(), pkgfsd.InstallOptions{
			Location:        loc,
			Files:           args,
			Deactivate:      installDeactivate,
			KeepTransaction: installKeepTx,
		})
		reportCommit(res, err)
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package-file-name>...",
	Short: "Deactivate packages",
	Long: `Deactivate packages by file name, dependents first.

Example:
  pkgfsd uninstall -l home app-1.0-1.hpkg`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		loc := requireLocation(uninstallLocation)
		client := requireClient(cfg)
		defer client.Close()

		res, err := client.Uninstall(context.Background(), loc, args...)
		reportCommit(res, err)
	},
}

// reportCommit prints the outcome of a commit and exits non-zero on
// failure.
func reportCommit(res *model.CommitResult, err error) {
	if res != nil && jsonOutput {
		outputJSON(res)
	}
	if err != nil {
		fmtErr("commit: %v", err)
		os.Exit(1)
	}
	if jsonOutput {
		return
	}
	fmt.Println(color.Success("Committed."))
	if res.OldStateDirectory != "" {
		fmt.Printf("  Previous state: %s\n", res.OldStateDirectory)
	}
	for _, is := range res.Issues {
		fmt.Printf("  %s %s: %s %s\n", color.Warning("issue"), is.Package, is.Kind, is.Path1)
	}
}

func init() {
	installCmd.Flags().StringVarP(&installLocation, "location", "l", "system", "installation location (system, home, custom)")
	installCmd.Flags().StringSliceVar(&installDeactivate, "deactivate", nil, "package file names to deactivate in the same transaction")
	installCmd.Flags().BoolVar(&installKeepTx, "keep-transaction", false, "leave the transaction directory in place")
	uninstallCmd.Flags().StringVarP(&uninstallLocation, "location", "l", "system", "installation location (system, home, custom)")
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
