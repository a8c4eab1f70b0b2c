package cli

import (
	"fmt"
	"os"

	"github.com/pkgfs-project/pkgfsd/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configForce bool
)

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage pkgfsd configuration",
	Long: `Manage the pkgfsd configuration file.

The file is looked up in the XDG config directories as pkgfsd/config.yaml
unless --config is given. Environment variables prefixed with PKGFSD_
override file values, with "__" separating nested keys.

Available commands:
  show  - Show the effective configuration
  path  - Print the configuration file path
  init  - Write a configuration file with the defaults`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		if jsonOutput {
			outputJSON(cfg)
			return
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			fmtErr("marshal config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("# %s\n", resolvedConfigPath())
		os.Stdout.Write(data)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(resolvedConfigPath())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	Run: func(cmd *cobra.Command, args []string) {
		path := resolvedConfigPath()
		if _, err := os.Stat(path); err == nil && !configForce {
			fmtErr("%s already exists (use --force to overwrite)", path)
			os.Exit(1)
		}
		cfg := config.Default()
		cfg.Roots = []config.RootConfig{{
			Path: "/boot",
			Volumes: []config.VolumeConfig{
				{MountPoint: "/boot/system", Type: "system"},
				{MountPoint: "/boot/home", Type: "home"},
			},
		}}
		if err := config.Save(path, cfg); err != nil {
			fmtErr("save config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", path)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
