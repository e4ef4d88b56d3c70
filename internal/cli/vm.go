package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/fleet"
	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all VMs",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var createCmd = &cobra.Command{
	Use:   "create <vmName> <imgName>",
	Short: "Create VM from image",
	Long: `Create a VM by importing an OVA image from the image directory. The new
VM gets the first free address of the default network.`,
	Args: cobra.ExactArgs(2),
	RunE: runCreate,
}

var delCmd = &cobra.Command{
	Use:   "del <vmName>",
	Short: "Delete VM",
	Long:  `Delete a VM and its disks. A running VM is stopped first.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDel,
}

var infoCmd = &cobra.Command{
	Use:   "info <vmName>",
	Short: "Dump VM details",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var modCmd = &cobra.Command{
	Use:   "mod <vmName> <cpus> [<memory>]",
	Short: "Modify VM CPUs and memory. Memory defaults to 1024",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runMod,
}

var ipCmd = &cobra.Command{
	Use:   "ip <vmName> <ip>",
	Short: "Set VM IP address",
	Args:  cobra.ExactArgs(2),
	RunE:  runIP,
}

func init() {
	delCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(modCmd)
	rootCmd.AddCommand(ipCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	vms, err := a.cp.ListVMs(ctx)
	if err != nil {
		return vmerr.Collaborator("list VMs", err)
	}
	if len(vms) == 0 {
		return nil
	}
	fmt.Fprintf(a.out, "%-30s %-5s %-6s %-12s %s\n", "NAME", "CPU", "MEM", "STATE", "SSH")
	for _, vm := range vms {
		h := hypervisor.NewHandle(a.cp, vm)
		info, err := h.Info(ctx)
		if err != nil {
			return vmerr.Collaborator("info "+vm.Name, err)
		}
		ip, err := h.Address(ctx)
		if err != nil {
			return vmerr.Collaborator("address of "+vm.Name, err)
		}
		fmt.Fprintf(a.out, "%-30s %-5d %-6d %-12s %s@%s\n", vm.Name, info.CPUs, info.MemoryMB, info.State, a.cfg.SSHUser, ip)
	}
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	name, img := args[0], args[1]
	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	if _, found, err := a.cp.FindVM(ctx, name); err != nil {
		return vmerr.Collaborator("find "+name, err)
	} else if found {
		return fmt.Errorf("VM %s already exists", name)
	}

	vm, _, err := a.machines.EnsureVM(ctx, name, img, fleet.EnsureOptions{AssignDefaultIP: true})
	if err != nil {
		return err
	}
	ip, err := a.alloc.Address(ctx, vm)
	if err != nil {
		return err
	}
	a.say(name, "Created from %s with IP %s", img, ip)
	return nil
}

func runDel(cmd *cobra.Command, args []string) error {
	name := args[0]
	force, _ := cmd.Flags().GetBool("force")
	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	vm, err := a.findVM(ctx, name)
	if err != nil {
		return err
	}
	if !force && !a.confirm("Are you sure you want to destroy %s?", nameColor(name)) {
		return errAborted
	}

	state, err := a.cp.PowerState(ctx, vm)
	if err != nil {
		return vmerr.Collaborator("power state of "+name, err)
	}
	if state == hypervisor.StateRunning {
		if _, err := a.power.Stop(ctx, vm); err != nil {
			return err
		}
	}
	// The VM process releases its session shortly after power off.
	if _, err := hypervisor.WaitUnlocked(ctx, a.cp, vm, a.lock, a.log); err != nil {
		return vmerr.Collaborator("delete "+name, err)
	}
	if err := a.cp.DeleteVM(ctx, vm); err != nil {
		return vmerr.Collaborator("delete "+name, err)
	}
	a.say(name, "Deleted")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
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
	info, err := h.Info(ctx)
	if err != nil {
		return vmerr.Collaborator("info "+vm.Name, err)
	}
	ip, err := h.Address(ctx)
	if err != nil {
		return vmerr.Collaborator("address of "+vm.Name, err)
	}

	row := func(k string, v any) { fmt.Fprintf(a.out, "%-40s  %v\n", k, v) }
	row("Name", info.Name)
	row("Description", info.Description)
	row("ID", info.ID)
	row("OS Type", info.OSType)
	row("CPUs", info.CPUs)
	row("Memory", fmt.Sprintf("%d MB", info.MemoryMB))
	row("State", info.State)
	row("Session State", info.Session)
	row("IP Address", ip)
	for i, nic := range info.NICs {
		key := fmt.Sprintf("NIC %d", i+1)
		if !nic.Enabled {
			row(key, "disabled")
			continue
		}
		desc := nic.Attachment.String()
		if nic.Network != "" {
			desc += " " + nic.Network
		}
		if nic.AdapterType != "" {
			desc += " (" + nic.AdapterType + ")"
		}
		row(key, desc)
		if nic.MAC != "" {
			row(key+" MAC", nic.MAC)
		}
		if len(nic.PortForwards) > 0 {
			row(key+" Port Forwards", strings.Join(nic.PortForwards, ", "))
		}
	}
	for i, d := range info.Disks {
		row(fmt.Sprintf("Disk %d", i+1), d)
	}
	return nil
}

func runMod(cmd *cobra.Command, args []string) error {
	cpus, err := strconv.Atoi(args[1])
	if err != nil {
		return &vmerr.ValidationError{Field: "cpus", Value: args[1], Reason: "must be a number"}
	}
	mem := fleet.DefaultMemoryMB
	if len(args) == 3 {
		if mem, err = strconv.Atoi(args[2]); err != nil {
			return &vmerr.ValidationError{Field: "memory", Value: args[2], Reason: "must be a number"}
		}
	}

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
	if err := a.machines.Modify(ctx, vm, cpus, mem); err != nil {
		return err
	}
	a.say(vm.Name, "Set to %d CPUs and %d MB", cpus, mem)
	return nil
}

func runIP(cmd *cobra.Command, args []string) error {
	name, ip := args[0], args[1]
	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	vm, err := a.findVM(ctx, name)
	if err != nil {
		return err
	}
	state, err := a.cp.PowerState(ctx, vm)
	if err != nil {
		return vmerr.Collaborator("power state of "+name, err)
	}
	if state == hypervisor.StateRunning {
		return &vmerr.PreconditionError{VM: name, State: state.String(), Want: "needs to be powered off for this"}
	}
	if err := a.alloc.Assign(ctx, vm, ip); err != nil {
		return err
	}
	a.say(name, "IP address set to %s", ip)
	return nil
}
