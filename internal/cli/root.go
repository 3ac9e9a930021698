package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd returns the funnelctl root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "funnelctl",
		Short:         "Funnel dataset and report tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(NewGenerateCmd())
	root.AddCommand(NewReportCmd())

	comp := &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(os.Stdout)
			case "zsh":
				return root.GenZshCompletion(os.Stdout)
			case "fish":
				return root.GenFishCompletion(os.Stdout, true)
			default:
				return root.GenPowerShellCompletionWithDesc(os.Stdout)
			}
		},
	}
	root.AddCommand(comp)
	return root
}
