// Package cli provides the command-line interface for vm.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "vm",
	Short: "vm - simple VirtualBox VM fleet manager",
	Long: `vm manages a small fleet of VirtualBox VMs on a single host.

VMs are created from OVA images, kept on unique addresses of a host-only
network, and provisioned from a vm.conf file in the current directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version.String()
	rootCmd.PersistentFlags().Bool("timing", false, "Print a per-phase timing report")
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// operation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
