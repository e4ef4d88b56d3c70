package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/config"
	"github.com/lencap/vm/internal/fleet"
	"github.com/lencap/vm/internal/image"
	"github.com/lencap/vm/internal/netalloc"
	"github.com/lencap/vm/internal/power"
	"github.com/lencap/vm/internal/transport"
	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
	"github.com/lencap/vm/pkg/hypervisor/vbox"
)

// errAborted is returned when the user declines a confirmation.
var errAborted = errors.New("aborted")

// openControlPlane connects to the hypervisor. Tests replace it.
var openControlPlane = func(ctx context.Context, cfg *config.Config, log hclog.Logger) (hypervisor.ControlPlane, error) {
	return vbox.New(ctx, vbox.Options{Path: cfg.VBoxManage, Log: log})
}

// newRemote builds the guest transport. Tests replace it.
var newRemote = func(cfg *config.Config, out, errOut io.Writer, log hclog.Logger) transport.Remote {
	return transport.NewSSH(transport.SSHConfig{
		User:        cfg.SSHUser,
		Port:        cfg.SSHPort,
		KeyPath:     cfg.SSHKeyPath,
		DialTimeout: 2 * time.Second,
		Stdout:      out,
		Stderr:      errOut,
	}, log)
}

// app is one invocation's wiring. Components that talk to the hypervisor
// exist only after connect.
type app struct {
	cfg    *config.Config
	logs   *config.LogConfig
	log    hclog.Logger
	images *image.Manager

	out    io.Writer
	errOut io.Writer
	in     io.Reader

	cp       hypervisor.ControlPlane
	lock     hypervisor.LockPolicy
	alloc    *netalloc.Allocator
	power    *power.Controller
	machines *fleet.Machines
	remote   transport.Remote
}

// newApp loads the settings and prepares the data directories.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logs := config.NewLogConfig(cfg)
	logs.Output = cmd.ErrOrStderr()
	log := logs.NewLogger(config.LoggerOpts{Name: "vm"})

	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		if config.HasFatal(errs) {
			return nil, fmt.Errorf("invalid configuration:\n%s", config.FormatValidationErrors(errs))
		}
		for _, e := range errs {
			log.Warn("configuration", "field", e.Field, "problem", e.Message)
		}
	}
	if err := config.EnsureDirectories(cfg); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	return &app{
		cfg:    cfg,
		logs:   logs,
		log:    log,
		images: image.NewManager(cfg.ImageDir),
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		in:     cmd.InOrStdin(),
	}, nil
}

func (a *app) logger(name string) hclog.Logger {
	return a.logs.NewLogger(config.LoggerOpts{Name: name})
}

// connect opens the hypervisor session and builds the components on top of
// it. The caller must close the app.
func (a *app) connect(ctx context.Context) error {
	cp, err := openControlPlane(ctx, a.cfg, a.logger("vbox"))
	if err != nil {
		return err
	}
	t := a.cfg.Timeouts
	a.cp = cp
	a.lock = hypervisor.LockPolicy{Grace: t.LockGrace, Interval: hypervisor.DefaultLockPolicy.Interval}

	aopts := netalloc.DefaultOptions()
	aopts.Lock = a.lock
	aopts.SegmentPoll = t.Poll
	aopts.SegmentTimeout = t.Segment
	a.alloc = netalloc.New(cp, aopts, a.logger("netalloc"))

	a.remote = newRemote(a.cfg, a.out, a.errOut, a.logger("transport"))
	a.power = power.New(cp, a.remote, a.alloc, power.Timeouts{
		Poll:     t.Poll,
		Graceful: t.Graceful,
		API:      t.API,
		Launch:   t.Launch,
		Lock:     a.lock,
	}, a.logger("power"))
	a.machines = fleet.NewMachines(cp, a.alloc, a.cfg.ImageDir, a.lock, a.logger("fleet"))
	return nil
}

func (a *app) close() {
	if a.cp != nil {
		a.cp.Close()
	}
}

// connectApp is newApp followed by connect.
func connectApp(cmd *cobra.Command) (*app, error) {
	a, err := newApp(cmd)
	if err != nil {
		return nil, err
	}
	if err := a.connect(cmd.Context()); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) frontend(gui bool) hypervisor.Frontend {
	if gui || a.cfg.Frontend == "gui" {
		return hypervisor.FrontendGUI
	}
	return hypervisor.FrontendHeadless
}

// findVM looks a VM up by name; a missing VM is a validation error.
func (a *app) findVM(ctx context.Context, name string) (*hypervisor.VM, error) {
	vm, ok, err := a.cp.FindVM(ctx, name)
	if err != nil {
		return nil, vmerr.Collaborator("find "+name, err)
	}
	if !ok {
		return nil, &vmerr.ValidationError{Field: "vm", Value: name, Reason: "doesn't exist", Err: vmerr.ErrNotFound}
	}
	return vm, nil
}

var nameColor = color.New(color.FgWhite, color.Bold).SprintFunc()

func (a *app) say(name, format string, args ...any) {
	fmt.Fprintf(a.out, "[%s] %s\n", nameColor(name), fmt.Sprintf(format, args...))
}

// confirm asks a y/n question; only "y" accepts.
func (a *app) confirm(format string, args ...any) bool {
	fmt.Fprintf(a.out, format+" y/n ", args...)
	line, _ := bufio.NewReader(a.in).ReadString('\n')
	return strings.TrimSpace(line) == "y"
}

func timingEnabled(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("timing")
	return on
}
