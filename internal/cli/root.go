package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	sectionTitleColor = color.New(color.FgBlue, color.Bold)
	bannerColor       = color.New(color.FgCyan, color.Bold)
)

// rootCmd is the root command for codoc.
var rootCmd = &cobra.Command{
	Use:     "codoc",
	Version: "dev",
	Short:   "Real-time collaborative document server",
	Long: `codoc serves plain-text documents that many clients edit at once.

Edits are sequenced with operational transformation and every connection
keeps its own undo and redo history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// SetVersion overrides the version printed by --version.
func SetVersion(v string) {
	if v == "" {
		return
	}

	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// helpFunc prints help with colored section titles.
func helpFunc(cmd *cobra.Command, _ []string) {
	var help strings.Builder

	if cmd.Long != "" {
		help.WriteString(cmd.Long)
		help.WriteString("\n\n")
	}

	help.WriteString(sectionTitleColor.Sprint("Usage:"))
	fmt.Fprintf(&help, "\n  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		help.WriteString(sectionTitleColor.Sprint("Commands:"))
		help.WriteString("\n")

		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(&help, "  %-11s %s\n", c.Name(), c.Short)
			}
		}

		help.WriteString("\n")
	}

	if cmd.HasAvailableLocalFlags() || cmd.HasAvailableInheritedFlags() {
		help.WriteString(sectionTitleColor.Sprint("Flags:"))
		help.WriteString("\n")
		help.WriteString(cmd.LocalFlags().FlagUsages())
		help.WriteString(cmd.InheritedFlags().FlagUsages())
		help.WriteString("\n")
	}

	fmt.Fprintf(&help, "Use \"%s [command] --help\" for more information about a command.\n", cmd.CommandPath())

	fmt.Fprint(cmd.OutOrStdout(), help.String())
}

func init() {
	rootCmd.SetHelpFunc(helpFunc)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the codoc version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
		},
	})

	rootCmd.AddCommand(newServeCmd())
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}
