// Package power drives VM power transitions: an escalating, time-bounded
// shutdown and a bounded start.
package power

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lencap/vm/internal/netalloc"
	"github.com/lencap/vm/internal/timing"
	"github.com/lencap/vm/internal/transport"
	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
)

// Timeouts bound every wait made by the controller.
type Timeouts struct {
	Poll     time.Duration
	Graceful time.Duration
	API      time.Duration
	Launch   time.Duration
	Lock     hypervisor.LockPolicy
}

// DefaultTimeouts returns the standard bounds: 3s per shutdown level and 5s
// for a launch, polled every 100ms.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Poll:     100 * time.Millisecond,
		Graceful: 3 * time.Second,
		API:      3 * time.Second,
		Launch:   5 * time.Second,
		Lock:     hypervisor.DefaultLockPolicy,
	}
}

// Addresser is the part of the address allocator a start needs.
type Addresser interface {
	Address(ctx context.Context, vm *hypervisor.VM) (string, error)
	Holder(ctx context.Context, ip string, excluding *hypervisor.VM) (string, error)
	Assign(ctx context.Context, vm *hypervisor.VM, ip string) error
}

// Controller starts and stops VMs.
type Controller struct {
	cp     hypervisor.ControlPlane
	remote transport.Remote
	addrs  Addresser
	t      Timeouts
	log    hclog.Logger
}

// New returns a controller. remote is used for the graceful in-guest
// shutdown.
func New(cp hypervisor.ControlPlane, remote transport.Remote, addrs Addresser, t Timeouts, log hclog.Logger) *Controller {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Controller{cp: cp, remote: remote, addrs: addrs, t: t, log: log}
}

func (c *Controller) state(ctx context.Context, vm *hypervisor.VM) (hypervisor.PowerState, error) {
	s, err := c.cp.PowerState(ctx, vm)
	return s, vmerr.Collaborator("power state of "+vm.Name, err)
}

// waitFor polls the VM's power state until done reports true or timeout
// passes, and returns the last state seen.
func (c *Controller) waitFor(ctx context.Context, vm *hypervisor.VM, timeout time.Duration, done func(hypervisor.PowerState) bool) (hypervisor.PowerState, error) {
	var last hypervisor.PowerState
	_, err := timing.Poll(ctx, c.t.Poll, timeout, func(ctx context.Context) (bool, error) {
		s, err := c.state(ctx, vm)
		if err != nil {
			return false, err
		}
		last = s
		return done(s), nil
	})
	return last, err
}

// Start boots a stopped VM with the given frontend. The VM's recorded
// address must be defined, valid and not held by another VM; it is
// re-applied, together with the bootstrap properties, before launch.
func (c *Controller) Start(ctx context.Context, vm *hypervisor.VM, fe hypervisor.Frontend) error {
	state, err := c.state(ctx, vm)
	if err != nil {
		return err
	}
	switch {
	case state == hypervisor.StateRunning:
		return &vmerr.PreconditionError{VM: vm.Name, State: state.String(), Want: "is already running"}
	case state == hypervisor.StatePaused, state == hypervisor.StateStuck, state.Transient():
		return &vmerr.PreconditionError{VM: vm.Name, State: state.String(), Want: "cannot be started"}
	}

	ip, err := c.addrs.Address(ctx, vm)
	if err != nil {
		return err
	}
	if ip == hypervisor.UndefinedAddress {
		return &vmerr.ValidationError{Field: "ip", Value: ip, Reason: "VM has no address; set one with 'vm ip'"}
	}
	if !netalloc.Validate(ip) {
		return &vmerr.ValidationError{Field: "ip", Value: ip, Reason: "not a dotted-quad IPv4 address"}
	}
	holder, err := c.addrs.Holder(ctx, ip, vm)
	if err != nil {
		return err
	}
	if holder != "" {
		return &vmerr.ConflictError{IP: ip, Holder: holder}
	}

	if err := c.addrs.Assign(ctx, vm, ip); err != nil {
		return err
	}
	if err := c.publishBootstrap(ctx, vm, ip); err != nil {
		return err
	}

	c.log.Info("launching VM", "vm", vm.Name, "frontend", fe)
	if err := c.cp.StartProcess(ctx, vm, fe); err != nil {
		return vmerr.Collaborator("launch "+vm.Name, err)
	}

	last, err := c.waitFor(ctx, vm, c.t.Launch, func(s hypervisor.PowerState) bool {
		return s == hypervisor.StateRunning
	})
	if err != nil {
		return err
	}
	if last != hypervisor.StateRunning {
		return &vmerr.TimeoutError{Op: "start", VM: vm.Name, After: c.t.Launch}
	}
	return nil
}

// publishBootstrap stores the hostname and address where the guest's boot
// hook reads them.
func (c *Controller) publishBootstrap(ctx context.Context, vm *hypervisor.VM, ip string) error {
	ed, err := hypervisor.Acquire(ctx, c.cp, vm, c.t.Lock, c.log)
	if err != nil {
		return vmerr.Collaborator("publish bootstrap data", err)
	}
	ed.SetGuestProperty(hypervisor.PropHostname, vm.Name)
	ed.SetGuestProperty(hypervisor.PropNetIP, ip)
	if err := ed.Commit(ctx); err != nil {
		ed.Discard()
		return vmerr.Collaborator("publish bootstrap data", err)
	}
	return nil
}
