// Package vbox implements hypervisor.ControlPlane on top of the VirtualBox
// VBoxManage command line tool.
package vbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/lencap/vm/pkg/hypervisor"
)

// Options configure a Session.
type Options struct {
	// Path is the VBoxManage binary, looked up in PATH when relative.
	Path string
	Log  hclog.Logger
}

// runner executes one VBoxManage invocation and returns its stdout.
type runner func(ctx context.Context, args ...string) (string, error)

// Session is one invocation's connection to VirtualBox. It is safe for
// sequential use; VBoxManage serializes conflicting operations itself.
type Session struct {
	invoke runner
	log    hclog.Logger

	mu     sync.Mutex
	closed bool
}

var _ hypervisor.ControlPlane = (*Session)(nil)

// New locates VBoxManage and checks that it answers.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Path == "" {
		opts.Path = "VBoxManage"
	}
	if opts.Log == nil {
		opts.Log = hclog.NewNullLogger()
	}
	bin, err := exec.LookPath(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hypervisor.ErrUnsupportedPlatform, err)
	}

	s := newSession(execRunner(bin, opts.Log), opts.Log)
	ver, err := s.run(ctx, "--version")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hypervisor.ErrUnsupportedPlatform, err)
	}
	opts.Log.Debug("connected", "vboxmanage", bin, "version", strings.TrimSpace(ver))
	return s, nil
}

func newSession(run runner, log hclog.Logger) *Session {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Session{invoke: run, log: log}
}

func execRunner(bin string, log hclog.Logger) runner {
	return func(ctx context.Context, args ...string) (string, error) {
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, bin, args...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		log.Trace("exec", "args", args)
		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return stdout.String(), fmt.Errorf("VBoxManage %s: %w", args[0], err)
			}
			return stdout.String(), fmt.Errorf("VBoxManage %s: %s", args[0], firstLine(msg))
		}
		return stdout.String(), nil
	}
}

// run refuses to start new VBoxManage invocations once the session is closed.
func (s *Session) run(ctx context.Context, args ...string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", hypervisor.ErrSessionClosed
	}
	return s.invoke(ctx, args...)
}

func firstLine(s string) string {
	s = strings.TrimPrefix(s, "VBoxManage: error: ")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Host implements hypervisor.ControlPlane.
func (s *Session) Host(ctx context.Context) (hypervisor.HostInfo, error) {
	out, err := s.run(ctx, "list", "hostinfo")
	if err != nil {
		return hypervisor.HostInfo{}, err
	}
	cpus, mem := parseHostInfo(out)
	return hypervisor.HostInfo{CPUs: cpus, MemoryAvailableMB: mem}, nil
}

// Close implements hypervisor.ControlPlane. VBoxManage keeps no connection
// open, so this only marks the session done; later calls fail with
// hypervisor.ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
