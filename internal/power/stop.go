package power

import (
	"context"
	"time"

	"github.com/lencap/vm/internal/netalloc"
	"github.com/lencap/vm/internal/timing"
	"github.com/lencap/vm/internal/transport"
	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
)

// Level is one rung of the shutdown escalation.
type Level int

const (
	LevelGuest Level = iota
	LevelPowerDown
	LevelPowerButton
	LevelKill
)

func (l Level) String() string {
	switch l {
	case LevelGuest:
		return "guest poweroff"
	case LevelPowerDown:
		return "power down"
	case LevelPowerButton:
		return "power button"
	case LevelKill:
		return "kill"
	default:
		return "unknown"
	}
}

// Step records one attempted level.
type Step struct {
	Level Level
	// Err is the swallowed failure of the request itself, if any.
	Err error
	// After is the state observed when the level's wait ended.
	After hypervisor.PowerState
}

// StopResult describes how a stop ended.
type StopResult struct {
	Final    hypervisor.PowerState
	Attempts []Step
}

// Escalations returns how many levels were tried.
func (r StopResult) Escalations() int { return len(r.Attempts) }

// Stop shuts vm down, escalating from an in-guest poweroff through the
// power-down and power-button calls to killing the VM process. A VM that is
// already off is left alone. Ending in Aborted after a kill is a normal
// outcome, not an error.
func (c *Controller) Stop(ctx context.Context, vm *hypervisor.VM) (StopResult, error) {
	state, err := c.state(ctx, vm)
	if err != nil {
		return StopResult{}, err
	}
	res := StopResult{Final: state}
	if state.Off() {
		return res, nil
	}
	if state != hypervisor.StateRunning {
		return res, &vmerr.PreconditionError{VM: vm.Name, State: state.String(), Want: "is not running"}
	}

	levels := []struct {
		level   Level
		applies func(hypervisor.PowerState) bool
		request func(context.Context, *hypervisor.VM) error
		wait    time.Duration
	}{
		{LevelGuest, isRunning, c.guestPoweroff, c.t.Graceful},
		{LevelPowerDown, downable, c.cp.PowerDown, c.t.API},
		{LevelPowerButton, notOff, c.cp.PowerButton, c.t.API},
	}

	for _, l := range levels {
		if !l.applies(state) {
			continue
		}
		step := Step{Level: l.level}
		if err := l.request(ctx, vm); err != nil {
			c.log.Debug("stop request failed, escalating", "vm", vm.Name, "level", l.level, "error", err)
			step.Err = err
		}
		state, err = c.waitOff(ctx, vm, l.wait, state)
		step.After = state
		res.Attempts = append(res.Attempts, step)
		res.Final = state
		if err != nil {
			return res, err
		}
		if state.Off() {
			c.log.Info("VM stopped", "vm", vm.Name, "level", l.level)
			return res, nil
		}
	}

	c.log.Warn("VM ignored every shutdown request, killing", "vm", vm.Name)
	step := Step{Level: LevelKill}
	if err := c.cp.ForceKill(ctx, vm); err != nil {
		step.Err = err
		res.Attempts = append(res.Attempts, step)
		return res, vmerr.Collaborator("kill "+vm.Name, err)
	}
	state, err = c.waitOff(ctx, vm, c.t.API, state)
	step.After = state
	res.Attempts = append(res.Attempts, step)
	res.Final = state
	if err != nil {
		return res, err
	}
	if !state.Off() {
		return res, &vmerr.TimeoutError{Op: "kill", VM: vm.Name, After: c.t.API}
	}
	return res, nil
}

// waitOff polls until the VM is off or timeout passes and returns the last
// state read, starting from prev. A failed read counts as not off yet so the
// escalation keeps going; only cancellation of ctx is returned.
func (c *Controller) waitOff(ctx context.Context, vm *hypervisor.VM, timeout time.Duration, prev hypervisor.PowerState) (hypervisor.PowerState, error) {
	last := prev
	_, err := timing.Poll(ctx, c.t.Poll, timeout, func(ctx context.Context) (bool, error) {
		s, err := c.cp.PowerState(ctx, vm)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			c.log.Debug("power state read failed, still waiting", "vm", vm.Name, "error", err)
			return false, nil
		}
		last = s
		return s.Off(), nil
	})
	return last, err
}

// guestPoweroff asks the guest OS to halt itself over SSH. The request gets
// the graceful budget; a guest that never answers must not hold up the
// escalation.
func (c *Controller) guestPoweroff(ctx context.Context, vm *hypervisor.VM) error {
	if c.remote == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.t.Graceful)
	defer cancel()
	ip, err := hypervisor.ReadAddress(ctx, c.cp, vm)
	if err != nil {
		return err
	}
	if !netalloc.Validate(ip) {
		return &vmerr.ValidationError{Field: "ip", Value: ip, Reason: "no usable address for guest shutdown"}
	}
	_, err = c.remote.Run(ctx, ip, transport.PoweroffCommand)
	return err
}

func isRunning(s hypervisor.PowerState) bool { return s == hypervisor.StateRunning }

func downable(s hypervisor.PowerState) bool {
	return s == hypervisor.StateRunning || s == hypervisor.StatePaused || s == hypervisor.StateStuck
}

func notOff(s hypervisor.PowerState) bool { return !s.Off() }
