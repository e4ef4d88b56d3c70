package fleet

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"

	"github.com/lencap/vm/internal/netalloc"
	"github.com/lencap/vm/internal/power"
	"github.com/lencap/vm/internal/timing"
	"github.com/lencap/vm/internal/transport"
	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
)

// Action is what reconciliation did to a VM.
type Action string

const (
	ActionNone    Action = "unchanged"
	ActionStarted Action = "started"
	ActionUpdated Action = "updated"
	ActionFailed  Action = "failed"
)

// Report is the outcome of reconciling one declaration.
type Report struct {
	Name     string
	Action   Action
	Created  bool
	Copied   bool
	Ran      bool
	Err      error
	Duration time.Duration
}

// Options tune a Reconciler.
type Options struct {
	Frontend     hypervisor.Frontend
	SSHPort      int
	ReachPoll    time.Duration
	ReachTimeout time.Duration

	// Out receives the per-VM progress lines. Nil discards them.
	Out io.Writer
	// Timer, when set, gets one phase per VM.
	Timer *timing.Timer
}

// DefaultOptions returns the standard reconciliation settings.
func DefaultOptions() Options {
	return Options{
		Frontend:     hypervisor.FrontendHeadless,
		SSHPort:      22,
		ReachPoll:    100 * time.Millisecond,
		ReachTimeout: 120 * time.Second,
	}
}

// Reconciler converges live VMs toward their declarations.
type Reconciler struct {
	cp       hypervisor.ControlPlane
	machines *Machines
	alloc    *netalloc.Allocator
	power    *power.Controller
	remote   transport.Remote
	opts     Options
	log      hclog.Logger
}

// NewReconciler wires the components a reconciliation needs.
func NewReconciler(cp hypervisor.ControlPlane, machines *Machines, alloc *netalloc.Allocator, pc *power.Controller, remote transport.Remote, opts Options, log hclog.Logger) *Reconciler {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Reconciler{cp: cp, machines: machines, alloc: alloc, power: pc, remote: remote, opts: opts, log: log}
}

var nameColor = color.New(color.FgWhite, color.Bold).SprintFunc()

func (r *Reconciler) say(name, format string, args ...any) {
	fmt.Fprintf(r.opts.Out, "[%s] %s\n", nameColor(name), fmt.Sprintf(format, args...))
}

// Run reconciles every declaration in order. A failing entry is reported
// and does not stop the ones after it.
func (r *Reconciler) Run(ctx context.Context, specs []Spec) []Report {
	reports := make([]Report, 0, len(specs))
	for _, s := range specs {
		if ctx.Err() != nil {
			reports = append(reports, Report{Name: s.Name, Action: ActionFailed, Err: ctx.Err()})
			continue
		}
		start := time.Now()
		rep := r.Apply(ctx, s)
		rep.Duration = time.Since(start)
		if rep.Err != nil {
			r.say(s.Name, "%s", color.RedString("Error: %v", rep.Err))
			r.log.Error("reconcile failed", "vm", s.Name, "kind", vmerr.Kind(rep.Err), "error", rep.Err)
		}
		if r.opts.Timer != nil {
			r.opts.Timer.Mark(s.Name)
		}
		reports = append(reports, rep)
	}
	return reports
}

// Failed counts the reports that carry an error.
func Failed(reports []Report) int {
	n := 0
	for _, rep := range reports {
		if rep.Err != nil {
			n++
		}
	}
	return n
}

// Apply reconciles a single declaration.
func (r *Reconciler) Apply(ctx context.Context, s Spec) Report {
	rep := Report{Name: s.Name, Action: ActionNone}
	fail := func(err error) Report {
		rep.Action = ActionFailed
		rep.Err = err
		return rep
	}

	r.say(s.Name, "Provisioning")
	vm, created, err := r.machines.EnsureVM(ctx, s.Name, s.Image, EnsureOptions{})
	if err != nil {
		return fail(err)
	}
	rep.Created = created
	if !created {
		r.say(s.Name, "VM already exists")
	}

	same, err := r.sameConfig(ctx, vm, s)
	if err != nil {
		return fail(err)
	}

	state, err := r.cp.PowerState(ctx, vm)
	if err != nil {
		return fail(vmerr.Collaborator("power state of "+s.Name, err))
	}

	booted := false
	switch {
	case same && state == hypervisor.StateRunning:
		r.say(s.Name, "VM already configured and running")
	case same:
		r.say(s.Name, "VM already configured, starting")
		if err := r.power.Start(ctx, vm, r.opts.Frontend); err != nil {
			return fail(err)
		}
		rep.Action = ActionStarted
		booted = true
	default:
		r.say(s.Name, "Updating VM")
		if state == hypervisor.StateRunning {
			res, err := r.power.Stop(ctx, vm)
			if err != nil {
				return fail(err)
			}
			r.log.Debug("stopped for update", "vm", s.Name, "final", res.Final, "escalations", res.Escalations())
		}
		if err := r.machines.Modify(ctx, vm, s.CPUs, s.MemoryMB); err != nil {
			return fail(err)
		}
		if err := r.alloc.Assign(ctx, vm, s.NetIP); err != nil {
			return fail(err)
		}
		if err := r.power.Start(ctx, vm, r.opts.Frontend); err != nil {
			return fail(err)
		}
		rep.Action = ActionUpdated
		booted = true
	}

	if !booted {
		return rep
	}

	if s.Copy != nil {
		r.say(s.Name, "VMCOPY: %s %s", s.Copy.Source, s.Copy.Destination)
		if err := transport.WaitReachable(ctx, r.remote, s.NetIP, r.opts.SSHPort, r.opts.ReachPoll, r.opts.ReachTimeout); err != nil {
			return fail(&vmerr.TimeoutError{Op: "wait for ssh", VM: s.Name, After: r.opts.ReachTimeout})
		}
		if err := r.remote.CopyTo(ctx, s.NetIP, s.Copy.Source, s.Copy.Destination); err != nil {
			return fail(vmerr.Collaborator("vmcopy", err))
		}
		rep.Copied = true
	}

	if s.Run != "" {
		r.say(s.Name, "VMRUN: %s", s.Run)
		code, err := r.remote.Run(ctx, s.NetIP, s.Run)
		if err != nil {
			return fail(vmerr.Collaborator("vmrun", err))
		}
		if code != 0 {
			return fail(vmerr.Collaborator("vmrun", fmt.Errorf("%q exited with status %d", s.Run, code)))
		}
		rep.Ran = true
	}
	return rep
}

// sameConfig compares the live VM with its declaration. A differing address
// already held by another VM is a conflict and stops the entry before any
// change is made.
func (r *Reconciler) sameConfig(ctx context.Context, vm *hypervisor.VM, s Spec) (bool, error) {
	same := true

	ip, err := r.alloc.Address(ctx, vm)
	if err != nil {
		return false, err
	}
	if ip != s.NetIP {
		holder, err := r.alloc.Holder(ctx, s.NetIP, vm)
		if err != nil {
			return false, err
		}
		if holder != "" {
			return false, &vmerr.ConflictError{IP: s.NetIP, Holder: holder}
		}
		same = false
		r.say(s.Name, "Setting IP address to %s", s.NetIP)
	}

	info, err := r.cp.Info(ctx, vm)
	if err != nil {
		return false, vmerr.Collaborator("info "+s.Name, err)
	}
	if info.CPUs != s.CPUs {
		same = false
		r.say(s.Name, "Setting CPU count to %d", s.CPUs)
	}
	if info.MemoryMB != s.MemoryMB {
		same = false
		r.say(s.Name, "Setting memory amount to %d", s.MemoryMB)
	}
	return same, nil
}
