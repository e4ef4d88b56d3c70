package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/netalloc"
	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
)

var netCmd = &cobra.Command{
	Use:   "net",
	Short: "Manage host-only networks",
}

var netListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available networks",
	Args:  cobra.NoArgs,
	RunE:  runNetList,
}

var netAddCmd = &cobra.Command{
	Use:   "add <gateway-ip>",
	Short: "Create new network",
	Long:  `Create a host-only /24 network. The gateway address must end in .1.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runNetAdd,
}

var netDelCmd = &cobra.Command{
	Use:   "del <vboxnetX>",
	Short: "Delete given network",
	Args:  cobra.ExactArgs(1),
	RunE:  runNetDel,
}

func init() {
	netCmd.AddCommand(netListCmd)
	netCmd.AddCommand(netAddCmd)
	netCmd.AddCommand(netDelCmd)
	rootCmd.AddCommand(netCmd)
}

func runNetList(cmd *cobra.Command, args []string) error {
	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	segs, err := a.cp.ListSegments(cmd.Context())
	if err != nil {
		return vmerr.Collaborator("list networks", err)
	}
	if len(segs) == 0 {
		return nil
	}
	fmt.Fprintf(a.out, "%-20s%-12s%-16s%-16s%s\n", "NAME", "DHCP", "GATEWAY", "NETMASK", "STATUS")
	for _, s := range segs {
		dhcp, status := "Disabled", "Down"
		if s.DHCP {
			dhcp = "Enabled"
		}
		if s.Up {
			status = "Up"
		}
		fmt.Fprintf(a.out, "%-20s%-12s%-16s%-16s%s\n", s.Name, dhcp, s.Gateway, s.Netmask, status)
	}
	return nil
}

func runNetAdd(cmd *cobra.Command, args []string) error {
	gw := args[0]
	if !netalloc.Validate(gw) {
		return &vmerr.ValidationError{Field: "ip", Value: gw, Reason: "not a dotted-quad IPv4 address"}
	}
	if !netalloc.Reserved(gw) {
		return &vmerr.ValidationError{Field: "gateway", Value: gw, Reason: "gateway IP address must end in .1"}
	}

	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	name, err := a.cp.CreateSegment(cmd.Context(), gw)
	if err != nil {
		return vmerr.Collaborator("create network", err)
	}
	fmt.Fprintln(a.out, name)
	return nil
}

func runNetDel(cmd *cobra.Command, args []string) error {
	a, err := connectApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	err = a.cp.DeleteSegment(cmd.Context(), args[0])
	if errors.Is(err, hypervisor.ErrSegmentNotFound) {
		return &vmerr.ValidationError{Field: "network", Value: args[0], Reason: "doesn't exist", Err: vmerr.ErrNotFound}
	}
	return vmerr.Collaborator("delete network", err)
}
