package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/lencap/vm/pkg/hypervisor"
)

// Remote is a guest transport bound to a Cloud. It resolves addresses to
// machines through their /vm/netip property.
type Remote struct {
	cloud *Cloud

	mu     sync.Mutex
	Runs   []string
	Copies []string
	// RunErr is returned by every Run when set.
	RunErr error
}

// NewRemote returns a transport talking to machines in c.
func NewRemote(c *Cloud) *Remote {
	return &Remote{cloud: c}
}

// guestAt returns the name of the machine holding ip and whether it would
// accept an SSH connection right now.
func (r *Remote) guestAt(ip string) (name string, up, ignorePoweroff bool) {
	r.cloud.mu.Lock()
	defer r.cloud.mu.Unlock()
	for _, m := range r.cloud.machines {
		if m.Props[hypervisor.PropNetIP] == ip {
			return m.Name, m.State == hypervisor.StateRunning && !m.SSHDown, m.IgnoreGuestPoweroff
		}
	}
	return "", false, false
}

// Run records the command. "/usr/sbin/poweroff" powers the guest off unless
// the machine is scripted to ignore it.
func (r *Remote) Run(ctx context.Context, ip, command string) (int, error) {
	r.mu.Lock()
	r.Runs = append(r.Runs, ip+" "+command)
	runErr := r.RunErr
	r.mu.Unlock()
	if runErr != nil {
		return -1, runErr
	}

	name, up, ignore := r.guestAt(ip)
	if !up {
		return -1, fmt.Errorf("fake: %s unreachable", ip)
	}
	if command == "/usr/sbin/poweroff" && !ignore {
		r.cloud.SetState(name, hypervisor.StatePoweredOff)
	}
	return 0, nil
}

// CopyTo records the copy.
func (r *Remote) CopyTo(ctx context.Context, ip, localPath, remotePath string) error {
	if !r.Reachable(ctx, ip, 22) {
		return fmt.Errorf("fake: %s unreachable", ip)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Copies = append(r.Copies, ip+" "+localPath+" "+remotePath)
	return nil
}

// Reachable reports whether a running machine holds ip.
func (r *Remote) Reachable(ctx context.Context, ip string, port int) bool {
	_, up, _ := r.guestAt(ip)
	return up
}
