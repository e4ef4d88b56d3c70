package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/fleet"
	"github.com/lencap/vm/internal/journal"
	"github.com/lencap/vm/internal/timing"
	"github.com/lencap/vm/internal/vmerr"
)

var provCmd = &cobra.Command{
	Use:   "prov [init]",
	Short: "Provision VMs as per vm.conf file. Use init to create basic file",
	Long: `Bring every VM declared in ./vm.conf to its declared image, address,
CPU count and memory, starting it and running its vmcopy and vmrun directives
when it had to be booted. Running it again changes nothing that already
matches.

vmcopy and vmrun run only for a VM that this pass booted. A VM that was
already running is left alone, so rerunning prov does not repeat them; stop
the VM first to have them run again.

With --every the provisioning repeats on a cron schedule until interrupted,
re-reading vm.conf each time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProv,
}

func init() {
	provCmd.Flags().String("every", "", `Repeat on a cron schedule, e.g. "@every 10m" or "*/5 * * * *"`)
	rootCmd.AddCommand(provCmd)
}

func runProv(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if args[0] != "init" {
			return fmt.Errorf("unknown argument %q; usage: vm prov [init]", args[0])
		}
		return provInit(a, cwd)
	}

	confPath := filepath.Join(cwd, fleet.ConfFile)
	if _, err := os.Stat(confPath); err != nil {
		fmt.Fprintln(a.out, "Usage: vm prov [init]")
		return nil
	}
	home, _ := os.UserHomeDir()
	if err := fleet.CheckWorkDir(cwd, home); err != nil {
		return err
	}

	if err := a.connect(cmd.Context()); err != nil {
		return err
	}
	defer a.close()

	every, _ := cmd.Flags().GetString("every")
	if every == "" {
		return provOnce(cmd.Context(), a, confPath, timingEnabled(cmd))
	}
	return provEvery(cmd.Context(), a, confPath, every)
}

func provInit(a *app, dir string) error {
	path, err := fleet.WriteTemplate(dir, false)
	if errors.Is(err, fleet.ErrExists) {
		if !a.confirm("File %s exists already. Overwrite it?", nameColor(path)) {
			return errAborted
		}
		path, err = fleet.WriteTemplate(dir, true)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wrote %s\n", path)
	return nil
}

// provOnce reconciles the declarations in confPath and journals the run.
func provOnce(ctx context.Context, a *app, confPath string, showTiming bool) error {
	specs, err := fleet.ParseFile(confPath)
	if err != nil {
		return err
	}

	opts := fleet.DefaultOptions()
	opts.Frontend = a.frontend(false)
	opts.SSHPort = a.cfg.SSHPort
	opts.ReachPoll = a.cfg.Timeouts.Poll
	opts.ReachTimeout = a.cfg.Timeouts.Reach
	opts.Out = a.out
	if showTiming {
		opts.Timer = timing.New("Provision Timing")
	}
	rec := fleet.NewReconciler(a.cp, a.machines, a.alloc, a.power, a.remote, opts, a.logger("fleet"))

	started := time.Now()
	reports := rec.Run(ctx, specs)
	a.record(ctx, confPath, started, reports)

	if opts.Timer != nil {
		opts.Timer.Report(a.out)
	}
	if n := fleet.Failed(reports); n > 0 {
		return fmt.Errorf("%d of %d VMs failed to provision", n, len(reports))
	}
	return nil
}

// record writes the run to the journal. Journal trouble never fails the
// provisioning itself.
func (a *app) record(ctx context.Context, source string, started time.Time, reports []fleet.Report) {
	store, err := journal.Open(a.cfg.JournalPath)
	if err != nil {
		a.log.Warn("journal unavailable", "path", a.cfg.JournalPath, "error", err)
		return
	}
	defer store.Close()

	run := journal.Run{Source: source, StartedAt: started, FinishedAt: time.Now()}
	for _, rep := range reports {
		e := journal.Entry{VM: rep.Name, Action: string(rep.Action), Created: rep.Created, Duration: rep.Duration}
		if rep.Err != nil {
			e.ErrorKind = vmerr.Kind(rep.Err)
			e.Error = rep.Err.Error()
		}
		run.Entries = append(run.Entries, e)
	}
	if _, err := store.Record(ctx, run); err != nil {
		a.log.Warn("journal write failed", "error", err)
	}
}

// provEvery repeats provOnce on a cron schedule. A run still in progress
// when the next one is due causes that one to be skipped.
func provEvery(ctx context.Context, a *app, confPath, spec string) error {
	log := a.logger("cron")
	c := cron.New(cron.WithLogger(cronLogger{log}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})))
	_, err := c.AddFunc(spec, func() {
		if err := provOnce(ctx, a, confPath, false); err != nil {
			fmt.Fprintf(a.errOut, "Error: %v\n", err)
		}
	})
	if err != nil {
		return &vmerr.ValidationError{Field: "every", Value: spec, Err: err}
	}

	fmt.Fprintf(a.out, "Provisioning on schedule %q; interrupt to stop\n", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts hclog to cron.Logger.
type cronLogger struct {
	log hclog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
