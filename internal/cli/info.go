package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/pkgfs-project/pkgfsd/pkg/color"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/spf13/cobra"
)

var (
	infoLocation string
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the packages of an installation location",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		loc := requireLocation(infoLocation)
		client := requireClient(cfg)
		defer client.Close()

		info, err := client.Info(context.Background(), loc)
		if err != nil {
			fmtErr("info: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(info)
			return
		}
		printLocationInfo(info)
	},
}

func printLocationInfo(info *model.LocationInfo) {
	fmt.Printf("Location: %s\n", color.Header(string(info.Location)))
	fmt.Printf("  Change count: %d\n", info.ChangeCount)
	if info.OldStateName != "" {
		fmt.Printf("  Booted state: %s\n", info.OldStateName)
	}
	printPackages("Active", info.ActivePackages)
	printPackages("Inactive", info.InactivePackages)
	if len(info.LatestActivePackages) > 0 || len(info.LatestInactivePackages) > 0 {
		fmt.Println(color.Warning("Pending until reboot:"))
		printPackages("Latest active", info.LatestActivePackages)
		printPackages("Latest inactive", info.LatestInactivePackages)
	}
}

func printPackages(title string, pkgs []model.PackageInfo) {
	fmt.Printf("  %s (%d):\n", title, len(pkgs))
	for _, p := range pkgs {
		fmt.Printf("    %s %s %s\n", color.Package(p.Name), p.Version, color.Dim(p.FileName))
	}
}

func init() {
	infoCmd.Flags().StringVarP(&infoLocation, "location", "l", "system", "installation location (system, home, custom)")
	rootCmd.AddCommand(infoCmd)
}
