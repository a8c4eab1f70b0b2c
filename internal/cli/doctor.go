package cli

import (
	"fmt"
	"os"

	"github.com/pkgfs-project/pkgfsd/internal/doctor"
	"github.com/pkgfs-project/pkgfsd/pkg/color"
	"github.com/spf13/cobra"
)

var (
	doctorStrict   bool
	doctorLocation string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check installation location health",
	Long: `Check installation location health.

Inspects the packages directory of a configured volume on disk and reports
leftover transactions, stale temporary files and activation file problems.
Use --strict to also verify the journal chain and parse every package file.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		vol := requireVolume(cfg, requireLocation(doctorLocation))

		doc := doctor.NewDoctor(vol.PackagesPath(), doctor.Options{
			BootState:             vol.OldState,
			MaxActivationFileSize: cfg.Activation.MaxFileSize,
		})
		result, err := doc.Check(doctorStrict)
		if err != nil {
			fmtErr("doctor: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(result)
		} else if len(result.Findings) == 0 {
			fmt.Println(color.Success("Installation location is healthy."))
		} else {
			fmt.Printf("Findings (%d):\n", len(result.Findings))
			for _, f := range result.Findings {
				fmt.Printf("  [%s] %s: %s\n", severity(f.Severity), f.Category, f.Description)
			}
		}

		if !result.Healthy {
			os.Exit(1)
		}
	},
}

func severity(s string) string {
	switch s {
	case doctor.SeverityError, doctor.SeverityCritical:
		return color.Error(s)
	case doctor.SeverityWarning:
		return color.Warning(s)
	}
	return color.Info(s)
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "verify the journal and every package file")
	doctorCmd.Flags().StringVarP(&doctorLocation, "location", "l", "system", "installation location (system, home, custom)")
	rootCmd.AddCommand(doctorCmd)
}
