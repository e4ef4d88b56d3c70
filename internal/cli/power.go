package cli

import (
	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/timing"
)

var startCmd = &cobra.Command{
	Use:   "start <vmName>",
	Short: "Start VM",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop <vmName>",
	Short: "Stop VM",
	Long: `Stop a running VM. The guest is asked to power off first; each request
it ignores is followed by a harder one, ending with killing the VM process.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	startCmd.Flags().Bool("gui", false, "Start with a GUI window instead of headless")
	stopCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	gui, _ := cmd.Flags().GetBool("gui")
	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	timer := timing.New("Start Timing")
	vm, err := a.findVM(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.power.Start(ctx, vm, a.frontend(gui)); err != nil {
		return err
	}
	timer.Mark("start")

	ip, _ := a.alloc.Address(ctx, vm)
	a.say(vm.Name, "Started with IP %s", ip)
	if timingEnabled(cmd) {
		timer.Report(a.out)
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	timer := timing.New("Stop Timing")
	vm, err := a.findVM(ctx, args[0])
	if err != nil {
		return err
	}
	if !force && !a.confirm("Are you sure you want to stop %s?", nameColor(vm.Name)) {
		return errAborted
	}

	res, err := a.power.Stop(ctx, vm)
	for _, step := range res.Attempts {
		timer.Mark(step.Level.String())
	}
	if err != nil {
		return err
	}
	if n := res.Escalations(); n > 0 {
		last := res.Attempts[n-1]
		a.say(vm.Name, "Stopped by %s (%s)", last.Level, res.Final)
	} else {
		a.say(vm.Name, "Already stopped (%s)", res.Final)
	}
	if timingEnabled(cmd) {
		timer.Report(a.out)
	}
	return nil
}

