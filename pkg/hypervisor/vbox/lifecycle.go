package vbox

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/lencap/vm/pkg/hypervisor"
)

// PowerState implements hypervisor.Lifecycle.
func (s *Session) PowerState(ctx context.Context, vm *hypervisor.VM) (hypervisor.PowerState, error) {
	kv, err := s.showInfo(ctx, vm)
	if err != nil {
		return hypervisor.StateUnknown, err
	}
	return parsePowerState(kv["VMState"]), nil
}

// StartProcess implements hypervisor.Lifecycle.
func (s *Session) StartProcess(ctx context.Context, vm *hypervisor.VM, fe hypervisor.Frontend) error {
	_, err := s.run(ctx, "startvm", ref(vm), "--type", frontendName(fe))
	return err
}

// PowerDown implements hypervisor.Lifecycle.
func (s *Session) PowerDown(ctx context.Context, vm *hypervisor.VM) error {
	_, err := s.run(ctx, "controlvm", ref(vm), "poweroff")
	return err
}

// PowerButton implements hypervisor.Lifecycle.
func (s *Session) PowerButton(ctx context.Context, vm *hypervisor.VM) error {
	_, err := s.run(ctx, "controlvm", ref(vm), "acpipowerbutton")
	return err
}

// ForceKill implements hypervisor.Lifecycle. It signals every VM process
// started for the machine by name; VirtualBox then records it as Aborted.
func (s *Session) ForceKill(ctx context.Context, vm *hypervisor.VM) error {
	pids, err := vmProcesses(ctx, vm.Name)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		return fmt.Errorf("no VM process found for %s", vm.Name)
	}
	for _, pid := range pids {
		s.log.Warn("killing VM process", "vm", vm.Name, "pid", pid)
		if err := killProcess(pid); err != nil {
			return fmt.Errorf("kill %d: %w", pid, err)
		}
	}
	return nil
}

// vmProcesses finds the frontend processes VirtualBox launches as
// `<frontend> --comment <name> --startvm <uuid>`.
func vmProcesses(ctx context.Context, name string) ([]int, error) {
	out, err := exec.CommandContext(ctx, "pgrep", "-f", "--", processPattern(name)).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep: %w", err)
	}
	return parsePIDs(string(out)), nil
}

// processPattern matches the frontend command line of the named VM. The
// name is quoted since pgrep treats its pattern as an extended regexp.
func processPattern(name string) string {
	return "--comment " + regexp.QuoteMeta(name) + " --startvm"
}

func parsePIDs(out string) []int {
	var pids []int
	for _, f := range strings.Fields(out) {
		if pid, err := strconv.Atoi(f); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}
