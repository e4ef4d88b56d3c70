// Package transport reaches guests over SSH on their host-only address.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/lencap/vm/internal/timing"
)

// PoweroffCommand is run inside a guest to shut it down cleanly.
const PoweroffCommand = "/usr/sbin/poweroff"

// Remote runs commands in and copies files to a guest.
type Remote interface {
	// Run executes command and returns its exit status.
	Run(ctx context.Context, ip, command string) (int, error)

	// CopyTo writes the local file to remotePath in the guest.
	CopyTo(ctx context.Context, ip, localPath, remotePath string) error

	// Reachable reports whether something accepts TCP connections on port.
	Reachable(ctx context.Context, ip string, port int) bool
}

// WaitReachable polls r until ip:port accepts connections or timeout passes.
func WaitReachable(ctx context.Context, r Remote, ip string, port int, interval, timeout time.Duration) error {
	ok, err := timing.Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		return r.Reachable(ctx, ip, port), nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s unreachable after %s", net.JoinHostPort(ip, strconv.Itoa(port)), timeout)
	}
	return nil
}

// dialReachable is the TCP probe shared by the SSH transport.
func dialReachable(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
