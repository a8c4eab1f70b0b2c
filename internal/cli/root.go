package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkgfs-project/pkgfsd/pkg/color"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	configPath string
	socketPath string
	rootPath   string
	noColor    bool
	rootCmd    = &cobra.Command{
		Use:   "pkgfsd",
		Short: "pkgfsd - transactional package activation daemon",
		Long: `pkgfsd keeps the set of activated packages of each installation location
consistent with the package files on disk. Clients stage packages in a
transaction directory and commit activation changes atomically; every
change is journaled and the previous state is kept for rollback at boot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
		},
	}
)

func init() {
	addPersistentFlags(rootCmd)
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: XDG config dir)")
	cmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket, overrides the config")
	cmd.PersistentFlags().StringVar(&rootPath, "root", "", "root path (default: the system root)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
