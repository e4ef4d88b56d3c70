package hypervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lencap/vm/internal/timing"
)

// LockPolicy bounds how long Acquire waits for a previous session.
type LockPolicy struct {
	Grace    time.Duration
	Interval time.Duration
}

// DefaultLockPolicy gives a previous session 5s to release the VM.
var DefaultLockPolicy = LockPolicy{Grace: 5 * time.Second, Interval: 10 * time.Millisecond}

// WaitUnlocked polls the VM's session state for up to the grace period and
// reports whether it became unlocked. Expiry is logged, not returned.
func WaitUnlocked(ctx context.Context, inv Inventory, vm *VM, p LockPolicy, log hclog.Logger) (bool, error) {
	unlocked, err := timing.Poll(ctx, p.Interval, p.Grace, func(ctx context.Context) (bool, error) {
		s, err := inv.SessionState(ctx, vm)
		if err != nil {
			return false, err
		}
		return s == SessionUnlocked, nil
	})
	if err != nil {
		return false, fmt.Errorf("session state of %s: %w", vm.Name, err)
	}
	if !unlocked && log != nil {
		log.Warn("previous session still holds VM, proceeding", "vm", vm.Name, "grace", p.Grace)
	}
	return unlocked, nil
}

// Acquire waits up to the grace period for the VM's session to unlock and
// then takes the configuration lock. When the grace period expires the lock
// is still attempted; a session that is really still active makes Lock fail
// instead of being raced.
func Acquire(ctx context.Context, inv Inventory, vm *VM, p LockPolicy, log hclog.Logger) (Editor, error) {
	if _, err := WaitUnlocked(ctx, inv, vm, p, log); err != nil {
		return nil, err
	}
	ed, err := inv.Lock(ctx, vm)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", vm.Name, err)
	}
	return ed, nil
}
