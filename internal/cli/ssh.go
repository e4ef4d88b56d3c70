package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
)

var sshCmd = &cobra.Command{
	Use:   "ssh <vmName> [<command>...]",
	Short: "SSH into or optionally run command on VM",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSSH,
}

func init() {
	// Everything after the VM name belongs to the remote command.
	sshCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(sshCmd)
}

// shell is implemented by transports that can attach a terminal.
type shell interface {
	Shell(ctx context.Context, ip string, stdin *os.File, stdout, stderr io.Writer) error
}

func runSSH(cmd *cobra.Command, args []string) error {
	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	vm, err := a.findVM(ctx, args[0])
	if err != nil {
		return err
	}
	h := hypervisor.NewHandle(a.cp, vm)
	state, err := h.State(ctx)
	if err != nil {
		return vmerr.Collaborator("power state of "+vm.Name, err)
	}
	if state != hypervisor.StateRunning {
		return &vmerr.PreconditionError{VM: vm.Name, State: state.String(), Want: "is not running"}
	}
	ip, err := h.Address(ctx)
	if err != nil {
		return vmerr.Collaborator("address of "+vm.Name, err)
	}
	if !a.remote.Reachable(ctx, ip, a.cfg.SSHPort) {
		return fmt.Errorf("VM unreachable via %s:%d", ip, a.cfg.SSHPort)
	}

	if len(args) > 1 {
		command := strings.Join(args[1:], " ")
		code, err := a.remote.Run(ctx, ip, command)
		if err != nil {
			return vmerr.Collaborator("ssh "+vm.Name, err)
		}
		if code != 0 {
			return fmt.Errorf("remote command exited with status %d", code)
		}
		return nil
	}

	sh, ok := a.remote.(shell)
	if !ok {
		return fmt.Errorf("interactive sessions are not supported by this transport")
	}
	return sh.Shell(ctx, ip, os.Stdin, a.out, a.errOut)
}
