package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit hash, and build date of vm.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "vm %s\n", version.Version)
		fmt.Fprintf(out, "  Commit:     %s\n", version.ShortCommit())
		fmt.Fprintf(out, "  Build Date: %s\n", version.BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
