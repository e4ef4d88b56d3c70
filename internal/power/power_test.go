package power_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lencap/vm/internal/netalloc"
	"github.com/lencap/vm/internal/power"
	"github.com/lencap/vm/internal/testutil"
	"github.com/lencap/vm/internal/transport"
	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
	"github.com/lencap/vm/pkg/hypervisor/fake"
)

type rig struct {
	cloud  *fake.Cloud
	remote *fake.Remote
	ctl    *power.Controller
}

func newRig(t *testing.T) *rig {
	t.Helper()
	lock := testutil.FastLock

	cloud := fake.New()
	remote := fake.NewRemote(cloud)
	opts := netalloc.DefaultOptions()
	opts.Lock = lock
	opts.SegmentPoll = time.Millisecond
	alloc := netalloc.New(cloud, opts, nil)

	return &rig{cloud: cloud, remote: remote, ctl: power.New(cloud, remote, alloc, fastTimeouts(), nil)}
}

func (r *rig) add(t *testing.T, m *fake.Machine) (*fake.Machine, *hypervisor.VM) {
	t.Helper()
	r.cloud.AddMachine(m)
	vm, ok, err := r.cloud.FindVM(context.Background(), m.Name)
	if err != nil || !ok {
		t.Fatalf("FindVM(%s) = %v, %v", m.Name, ok, err)
	}
	return m, vm
}

func running(name, ip string) *fake.Machine {
	return &fake.Machine{
		Name:  name,
		State: hypervisor.StateRunning,
		Props: map[string]string{hypervisor.PropNetIP: ip},
	}
}

func levels(res power.StopResult) []power.Level {
	out := make([]power.Level, len(res.Attempts))
	for i, s := range res.Attempts {
		out[i] = s.Level
	}
	return out
}

func equalLevels(a, b []power.Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStopEscalation(t *testing.T) {
	tests := []struct {
		name   string
		script func(m *fake.Machine)
		want   []power.Level
		final  hypervisor.PowerState
	}{
		{
			name:   "guest poweroff",
			script: func(m *fake.Machine) {},
			want:   []power.Level{power.LevelGuest},
			final:  hypervisor.StatePoweredOff,
		},
		{
			name: "power down",
			script: func(m *fake.Machine) {
				m.IgnoreGuestPoweroff = true
			},
			want:  []power.Level{power.LevelGuest, power.LevelPowerDown},
			final: hypervisor.StatePoweredOff,
		},
		{
			name: "power button",
			script: func(m *fake.Machine) {
				m.IgnoreGuestPoweroff = true
				m.IgnorePowerDown = true
			},
			want:  []power.Level{power.LevelGuest, power.LevelPowerDown, power.LevelPowerButton},
			final: hypervisor.StatePoweredOff,
		},
		{
			name: "kill",
			script: func(m *fake.Machine) {
				m.IgnoreGuestPoweroff = true
				m.IgnorePowerDown = true
				m.IgnorePowerButton = true
			},
			want:  []power.Level{power.LevelGuest, power.LevelPowerDown, power.LevelPowerButton, power.LevelKill},
			final: hypervisor.StateAborted,
		},
		{
			name: "kill leaves powered off",
			script: func(m *fake.Machine) {
				m.IgnoreGuestPoweroff = true
				m.IgnorePowerDown = true
				m.IgnorePowerButton = true
				m.KillLeaves = hypervisor.StatePoweredOff
			},
			want:  []power.Level{power.LevelGuest, power.LevelPowerDown, power.LevelPowerButton, power.LevelKill},
			final: hypervisor.StatePoweredOff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			m, vm := r.add(t, running("dev1", "10.11.12.2"))
			tt.script(m)

			res, err := r.ctl.Stop(context.Background(), vm)
			if err != nil {
				t.Fatalf("Stop() error = %v", err)
			}
			if got := levels(res); !equalLevels(got, tt.want) {
				t.Errorf("levels = %v, want %v", got, tt.want)
			}
			if res.Final != tt.final {
				t.Errorf("Final = %s, want %s", res.Final, tt.final)
			}
			if m.State != tt.final {
				t.Errorf("machine state = %s, want %s", m.State, tt.final)
			}
		})
	}
}

func TestStopPowerButtonCallCounts(t *testing.T) {
	r := newRig(t)
	m, vm := r.add(t, running("dev1", "10.11.12.2"))
	m.IgnoreGuestPoweroff = true
	m.IgnorePowerDown = true

	res, err := r.ctl.Stop(context.Background(), vm)
	if err != nil {
		t.Fatal(err)
	}
	if res.Escalations() != 3 {
		t.Errorf("Escalations() = %d, want 3", res.Escalations())
	}
	if len(r.remote.Runs) != 1 || r.remote.Runs[0] != "10.11.12.2 /usr/sbin/poweroff" {
		t.Errorf("remote runs = %v", r.remote.Runs)
	}
	for op, want := range map[string]int{"PowerDown": 1, "PowerButton": 1, "ForceKill": 0} {
		if got := r.cloud.CallCount(op); got != want {
			t.Errorf("%s calls = %d, want %d", op, got, want)
		}
	}
}

func TestStopUnreachableGuestEscalates(t *testing.T) {
	r := newRig(t)
	m, vm := r.add(t, running("dev1", "10.11.12.2"))
	m.SSHDown = true

	res, err := r.ctl.Stop(context.Background(), vm)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Err == nil {
		t.Fatalf("attempts = %+v, want failed guest step then power down", res.Attempts)
	}
	if res.Final != hypervisor.StatePoweredOff {
		t.Errorf("Final = %s", res.Final)
	}
}

func TestStopAlreadyOff(t *testing.T) {
	for _, state := range []hypervisor.PowerState{hypervisor.StatePoweredOff, hypervisor.StateAborted} {
		t.Run(state.String(), func(t *testing.T) {
			r := newRig(t)
			_, vm := r.add(t, &fake.Machine{Name: "dev1", State: state})

			res, err := r.ctl.Stop(context.Background(), vm)
			if err != nil {
				t.Fatalf("Stop() error = %v", err)
			}
			if len(res.Attempts) != 0 || res.Final != state {
				t.Errorf("result = %+v, want no attempts", res)
			}
			if calls := r.cloud.Calls(); len(calls) != 0 {
				t.Errorf("calls = %v", calls)
			}
		})
	}
}

func TestStopNotRunning(t *testing.T) {
	r := newRig(t)
	_, vm := r.add(t, &fake.Machine{Name: "dev1", State: hypervisor.StatePaused})

	_, err := r.ctl.Stop(context.Background(), vm)
	var pe *vmerr.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
	if pe.State != "Paused" {
		t.Errorf("State = %q", pe.State)
	}
}

func TestStart(t *testing.T) {
	r := newRig(t)
	m, vm := r.add(t, &fake.Machine{
		Name:  "dev1",
		Props: map[string]string{hypervisor.PropNetIP: "10.11.12.4"},
	})

	if err := r.ctl.Start(context.Background(), vm, hypervisor.FrontendHeadless); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.State != hypervisor.StateRunning {
		t.Errorf("state = %s", m.State)
	}
	if m.Props[hypervisor.PropHostname] != "dev1" {
		t.Errorf("hostname = %q", m.Props[hypervisor.PropHostname])
	}
	if m.NICs[1].Attachment != hypervisor.AttachHostOnly {
		t.Errorf("NIC1 = %+v, want host-only", m.NICs[1])
	}
	if got := r.cloud.CallCount("StartProcess"); got != 1 {
		t.Errorf("StartProcess calls = %d", got)
	}
}

func TestStartRefusals(t *testing.T) {
	tests := []struct {
		name    string
		machine *fake.Machine
		kind    string
	}{
		{"undefined address", &fake.Machine{Name: "dev1"}, "validation"},
		{"invalid address", &fake.Machine{Name: "dev1", Props: map[string]string{hypervisor.PropNetIP: "10.11.12"}}, "validation"},
		{"already running", running("dev1", "10.11.12.2"), "precondition"},
		{"taken address", &fake.Machine{Name: "dev1", Props: map[string]string{hypervisor.PropNetIP: "10.11.12.9"}}, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.cloud.AddMachine(&fake.Machine{Name: "other", Props: map[string]string{hypervisor.PropNetIP: "10.11.12.9"}})
			_, vm := r.add(t, tt.machine)

			err := r.ctl.Start(context.Background(), vm, hypervisor.FrontendHeadless)
			if got := vmerr.Kind(err); got != tt.kind {
				t.Fatalf("err = %v (kind %q), want %s", err, got, tt.kind)
			}
			if n := r.cloud.CallCount("StartProcess"); n != 0 {
				t.Errorf("StartProcess called %d times", n)
			}
		})
	}
}

func TestStartTimeout(t *testing.T) {
	r := newRig(t)
	m, vm := r.add(t, &fake.Machine{Name: "dev1", Props: map[string]string{hypervisor.PropNetIP: "10.11.12.4"}})
	m.StartLeaves = hypervisor.StateStarting

	err := r.ctl.Start(context.Background(), vm, hypervisor.FrontendGUI)
	var te *vmerr.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}

// flakyCloud fails the failOn-th PowerState read.
type flakyCloud struct {
	*fake.Cloud
	mu     sync.Mutex
	reads  int
	failOn int
}

func (c *flakyCloud) PowerState(ctx context.Context, vm *hypervisor.VM) (hypervisor.PowerState, error) {
	c.mu.Lock()
	c.reads++
	n := c.reads
	c.mu.Unlock()
	if n == c.failOn {
		return hypervisor.StateUnknown, errors.New("VBoxManage: transient failure")
	}
	return c.Cloud.PowerState(ctx, vm)
}

func TestStopSurvivesFailedStateRead(t *testing.T) {
	r := newRig(t)
	m, vm := r.add(t, running("dev1", "10.11.12.2"))
	m.IgnoreGuestPoweroff = true

	cp := &flakyCloud{Cloud: r.cloud, failOn: 2}
	ctl := power.New(cp, r.remote, nil, fastTimeouts(), nil)

	res, err := ctl.Stop(context.Background(), vm)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if want := []power.Level{power.LevelGuest, power.LevelPowerDown}; !equalLevels(levels(res), want) {
		t.Errorf("levels = %v, want %v", levels(res), want)
	}
	if res.Final != hypervisor.StatePoweredOff || m.State != hypervisor.StatePoweredOff {
		t.Errorf("Final = %s, machine = %s", res.Final, m.State)
	}
	if n := r.cloud.CallCount("PowerDown"); n != 1 {
		t.Errorf("PowerDown calls = %d, want 1", n)
	}
}

func TestStopSilentGuestEscalates(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	var held []net.Conn
	defer func() {
		for _, c := range held {
			c.Close()
		}
	}()
	accepted := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()

	keyPath := filepath.Join(t.TempDir(), "vmkey")
	if _, _, err := transport.NewKeyManager(keyPath).EnsureKeyPair(false); err != nil {
		t.Fatal(err)
	}
	remote := transport.NewSSH(transport.SSHConfig{
		User:        "root",
		Port:        ln.Addr().(*net.TCPAddr).Port,
		KeyPath:     keyPath,
		DialTimeout: time.Minute,
	}, nil)

	r := newRig(t)
	_, vm := r.add(t, running("dev1", "127.0.0.1"))
	ctl := power.New(r.cloud, remote, nil, fastTimeouts(), nil)

	done := make(chan error, 1)
	var res power.StopResult
	go func() {
		var err error
		res, err = ctl.Stop(context.Background(), vm)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() blocked on a guest that never answers SSH")
	}
	for len(accepted) > 0 {
		held = append(held, <-accepted)
	}

	if len(res.Attempts) != 2 || res.Attempts[0].Err == nil {
		t.Fatalf("attempts = %+v, want failed guest step then power down", res.Attempts)
	}
	if res.Final != hypervisor.StatePoweredOff {
		t.Errorf("Final = %s", res.Final)
	}
}

func fastTimeouts() power.Timeouts {
	return power.Timeouts{
		Poll:     time.Millisecond,
		Graceful: 20 * time.Millisecond,
		API:      20 * time.Millisecond,
		Launch:   30 * time.Millisecond,
		Lock:     testutil.FastLock,
	}
}
