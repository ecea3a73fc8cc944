package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

func (a *app) completionCommand(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Print a shell completion script",
		Long:      "Without an argument the shell is taken from $SHELL (powershell on Windows).",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: completionShells,
		// completion needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(_ *cobra.Command, args []string) error {
			shell := detectShell()
			if len(args) == 1 {
				shell = strings.ToLower(args[0])
			}
			switch shell {
			case "bash":
				return root.GenBashCompletionV2(a.stdout, true)
			case "zsh":
				return root.GenZshCompletion(a.stdout)
			case "fish":
				return root.GenFishCompletion(a.stdout, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(a.stdout)
			}
			return fmt.Errorf("unknown shell for completion: %s (expected one of: %s)", shell, strings.Join(completionShells, ", "))
		},
	}
}

func detectShell() string {
	if runtime.GOOS == "windows" {
		return "powershell"
	}
	shell := os.Getenv("SHELL")
	switch {
	case strings.HasSuffix(shell, "zsh"):
		return "zsh"
	case strings.HasSuffix(shell, "fish"):
		return "fish"
	}
	return "bash"
}
