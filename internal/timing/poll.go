package timing

import (
	"context"
	"time"
)

// Condition reports whether the awaited state has been reached.
type Condition func(ctx context.Context) (bool, error)

// Poll evaluates cond immediately and then every interval until it returns
// true, returns an error, or timeout elapses. It reports whether cond was
// satisfied. A timeout is not an error; callers decide whether to escalate
// or fail.
func Poll(ctx context.Context, interval, timeout time.Duration, cond Condition) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
}
