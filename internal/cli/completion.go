package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var completionShells = []string{"bash", "zsh", "fish"}

var completionCmd = &cobra.Command{
	Use:   "completion <bash|zsh|fish>",
	Short: "Print a shell completion script",
	Long: `Print a completion script for pkgfsd to stdout.

Only the shells found on pkgfsd hosts are supported. Source the script
or install it where the shell looks for completions:

  source <(pkgfsd completion bash)
  pkgfsd completion zsh > "${fpath[1]}/_pkgfsd"
  pkgfsd completion fish > ~/.config/fish/completions/pkgfsd.fish`,
	DisableFlagsInUseLine: true,
	ValidArgs:             completionShells,
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeCompletion(cmd.Root(), cmd.OutOrStdout(), args[0])
	},
}

func writeCompletion(root *cobra.Command, out io.Writer, shell string) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(out, true)
	case "zsh":
		return root.GenZshCompletion(out)
	case "fish":
		return root.GenFishCompletion(out, true)
	}
	return fmt.Errorf("unsupported shell %q", shell)
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
