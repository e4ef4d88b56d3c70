// Package fake provides an in-memory hypervisor control plane and guest
// transport for tests. Machines can be scripted to ignore individual stop
// mechanisms, and every mutating call is recorded.
package fake

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lencap/vm/pkg/hypervisor"
)

// Machine is the fake's record of one VM. Behavior fields may be changed by
// tests between calls.
type Machine struct {
	ID        string
	Name      string
	Image     string
	CPUs      int
	MemoryMB  int
	State     hypervisor.PowerState
	Session   hypervisor.SessionState
	Props     map[string]string
	NICs      [2]hypervisor.NIC
	BootOrder []hypervisor.DeviceType
	Platform  bool

	// IgnoreGuestPoweroff keeps the VM running when poweroff runs inside it.
	IgnoreGuestPoweroff bool
	// IgnorePowerDown and IgnorePowerButton make the API calls no-ops.
	IgnorePowerDown   bool
	IgnorePowerButton bool
	// KillLeaves is the state ForceKill leaves behind (default Aborted).
	KillLeaves hypervisor.PowerState
	// StartLeaves is the state StartProcess leaves behind (default Running).
	StartLeaves hypervisor.PowerState
	// SSHDown makes the guest unreachable over SSH.
	SSHDown bool
}

// Cloud is an in-memory ControlPlane.
type Cloud struct {
	mu       sync.Mutex
	machines map[string]*Machine
	order    []string
	segments []hypervisor.Segment
	pending  map[string]int
	calls    []string
	nextID   int

	// Host is returned by Host().
	HostInfo hypervisor.HostInfo
	// SegmentLag is how many ListSegments calls a new segment stays
	// invisible for, simulating asynchronous creation.
	SegmentLag int
	// Fail injects an error for the named operation, e.g. "CreateVM".
	Fail map[string]error
	// Closed is set by Close.
	Closed bool
}

// New returns an empty cloud with a generous host.
func New() *Cloud {
	return &Cloud{
		machines: make(map[string]*Machine),
		pending:  make(map[string]int),
		HostInfo: hypervisor.HostInfo{CPUs: 16, MemoryAvailableMB: 65536},
		Fail:     make(map[string]error),
	}
}

var _ hypervisor.ControlPlane = (*Cloud)(nil)

// AddMachine registers a VM directly, bypassing CreateVM and the call log.
func (c *Cloud) AddMachine(m *Machine) *Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if m.ID == "" {
		m.ID = fmt.Sprintf("vm-%d", c.nextID)
	}
	if m.Props == nil {
		m.Props = make(map[string]string)
	}
	if m.State == hypervisor.StateUnknown {
		m.State = hypervisor.StatePoweredOff
	}
	if m.CPUs == 0 {
		m.CPUs = 1
	}
	if m.MemoryMB == 0 {
		m.MemoryMB = 1024
	}
	c.machines[m.Name] = m
	c.order = append(c.order, m.Name)
	return m
}

// AddSegment registers a segment directly.
func (c *Cloud) AddSegment(s hypervisor.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments = append(c.segments, s)
}

// Machine returns the named machine record, or nil.
func (c *Cloud) Machine(name string) *Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machines[name]
}

// SetState forces a VM's power state.
func (c *Cloud) SetState(name string, s hypervisor.PowerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.machines[name]; m != nil {
		m.State = s
	}
}

// Calls returns the mutating calls made so far, as "Op name" strings.
func (c *Cloud) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// CallCount returns how many recorded calls start with op.
func (c *Cloud) CallCount(op string) int {
	n := 0
	for _, call := range c.Calls() {
		if strings.HasPrefix(call, op+" ") || call == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (c *Cloud) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *Cloud) record(op, name string) error {
	c.calls = append(c.calls, op+" "+name)
	return c.Fail[op]
}

func (c *Cloud) get(vm *hypervisor.VM) (*Machine, error) {
	m, ok := c.machines[vm.Name]
	if !ok {
		return nil, fmt.Errorf("fake: no machine %q", vm.Name)
	}
	return m, nil
}

// FindVM implements hypervisor.Inventory.
func (c *Cloud) FindVM(ctx context.Context, name string) (*hypervisor.VM, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Fail["FindVM"]; err != nil {
		return nil, false, err
	}
	m, ok := c.machines[name]
	if !ok {
		return nil, false, nil
	}
	return &hypervisor.VM{ID: m.ID, Name: m.Name}, true, nil
}

// ListVMs implements hypervisor.Inventory.
func (c *Cloud) ListVMs(ctx context.Context) ([]*hypervisor.VM, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Fail["ListVMs"]; err != nil {
		return nil, err
	}
	vms := make([]*hypervisor.VM, 0, len(c.order))
	for _, name := range c.order {
		m := c.machines[name]
		vms = append(vms, &hypervisor.VM{ID: m.ID, Name: m.Name})
	}
	return vms, nil
}

// CreateVM implements hypervisor.Inventory.
func (c *Cloud) CreateVM(ctx context.Context, name, imagePath string, tmpl hypervisor.Template) (*hypervisor.VM, error) {
	c.mu.Lock()
	if err := c.record("CreateVM", name); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	_, exists := c.machines[name]
	c.mu.Unlock()
	if exists {
		return nil, hypervisor.ErrAlreadyExists
	}
	m := c.AddMachine(&Machine{Name: name, Image: imagePath, CPUs: tmpl.CPUs, MemoryMB: tmpl.MemoryMB})
	return &hypervisor.VM{ID: m.ID, Name: m.Name}, nil
}

// DeleteVM implements hypervisor.Inventory.
func (c *Cloud) DeleteVM(ctx context.Context, vm *hypervisor.VM) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("DeleteVM", vm.Name); err != nil {
		return err
	}
	if _, err := c.get(vm); err != nil {
		return err
	}
	delete(c.machines, vm.Name)
	for i, n := range c.order {
		if n == vm.Name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Info implements hypervisor.Inventory.
func (c *Cloud) Info(ctx context.Context, vm *hypervisor.VM) (*hypervisor.MachineInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(vm)
	if err != nil {
		return nil, err
	}
	return &hypervisor.MachineInfo{
		ID:       m.ID,
		Name:     m.Name,
		CPUs:     m.CPUs,
		MemoryMB: m.MemoryMB,
		State:    m.State,
		Session:  m.Session,
		NICs:     []hypervisor.NIC{m.NICs[0], m.NICs[1]},
	}, nil
}

// GuestProperty implements hypervisor.Inventory.
func (c *Cloud) GuestProperty(ctx context.Context, vm *hypervisor.VM, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(vm)
	if err != nil {
		return "", err
	}
	return m.Props[key], nil
}

// SessionState implements hypervisor.Inventory.
func (c *Cloud) SessionState(ctx context.Context, vm *hypervisor.VM) (hypervisor.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(vm)
	if err != nil {
		return 0, err
	}
	return m.Session, nil
}

// Lock implements hypervisor.Inventory.
func (c *Cloud) Lock(ctx context.Context, vm *hypervisor.VM) (hypervisor.Editor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(vm)
	if err != nil {
		return nil, err
	}
	if m.Session == hypervisor.SessionLocked {
		return nil, hypervisor.ErrLocked
	}
	m.Session = hypervisor.SessionLocked
	return &editor{cloud: c, m: m}, nil
}

// PowerState implements hypervisor.Lifecycle.
func (c *Cloud) PowerState(ctx context.Context, vm *hypervisor.VM) (hypervisor.PowerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(vm)
	if err != nil {
		return hypervisor.StateUnknown, err
	}
	return m.State, nil
}

// StartProcess implements hypervisor.Lifecycle.
func (c *Cloud) StartProcess(ctx context.Context, vm *hypervisor.VM, fe hypervisor.Frontend) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("StartProcess", vm.Name); err != nil {
		return err
	}
	m, err := c.get(vm)
	if err != nil {
		return err
	}
	m.State = hypervisor.StateRunning
	if m.StartLeaves != hypervisor.StateUnknown {
		m.State = m.StartLeaves
	}
	return nil
}

// PowerDown implements hypervisor.Lifecycle.
func (c *Cloud) PowerDown(ctx context.Context, vm *hypervisor.VM) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("PowerDown", vm.Name); err != nil {
		return err
	}
	m, err := c.get(vm)
	if err != nil {
		return err
	}
	if !m.IgnorePowerDown {
		m.State = hypervisor.StatePoweredOff
	}
	return nil
}

// PowerButton implements hypervisor.Lifecycle.
func (c *Cloud) PowerButton(ctx context.Context, vm *hypervisor.VM) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("PowerButton", vm.Name); err != nil {
		return err
	}
	m, err := c.get(vm)
	if err != nil {
		return err
	}
	if !m.IgnorePowerButton {
		m.State = hypervisor.StatePoweredOff
	}
	return nil
}

// ForceKill implements hypervisor.Lifecycle.
func (c *Cloud) ForceKill(ctx context.Context, vm *hypervisor.VM) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("ForceKill", vm.Name); err != nil {
		return err
	}
	m, err := c.get(vm)
	if err != nil {
		return err
	}
	m.State = hypervisor.StateAborted
	if m.KillLeaves != hypervisor.StateUnknown {
		m.State = m.KillLeaves
	}
	return nil
}

// ListSegments implements hypervisor.Networks.
func (c *Cloud) ListSegments(ctx context.Context) ([]hypervisor.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []hypervisor.Segment
	for _, s := range c.segments {
		if c.pending[s.Name] > 0 {
			c.pending[s.Name]--
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// CreateSegment implements hypervisor.Networks.
func (c *Cloud) CreateSegment(ctx context.Context, gateway string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := fmt.Sprintf("vboxnet%d", len(c.segments))
	if err := c.record("CreateSegment", name); err != nil {
		return "", err
	}
	c.segments = append(c.segments, hypervisor.Segment{
		Name:    name,
		Gateway: gateway,
		Netmask: "255.255.255.0",
		Up:      true,
	})
	c.pending[name] = c.SegmentLag
	return name, nil
}

// DeleteSegment implements hypervisor.Networks.
func (c *Cloud) DeleteSegment(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("DeleteSegment", name); err != nil {
		return err
	}
	for i, s := range c.segments {
		if s.Name == name {
			c.segments = append(c.segments[:i], c.segments[i+1:]...)
			return nil
		}
	}
	return hypervisor.ErrSegmentNotFound
}

// Segments returns every segment, including ones still pending.
func (c *Cloud) Segments() []hypervisor.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]hypervisor.Segment(nil), c.segments...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Host implements hypervisor.ControlPlane.
func (c *Cloud) Host(ctx context.Context) (hypervisor.HostInfo, error) {
	return c.HostInfo, nil
}

// Close implements hypervisor.ControlPlane.
func (c *Cloud) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// editor stages writes and applies them on Commit.
type editor struct {
	cloud  *Cloud
	m      *Machine
	staged []func(*Machine)
	err    error
	done   bool
}

func (e *editor) SetCPUs(n int) {
	e.staged = append(e.staged, func(m *Machine) { m.CPUs = n })
}

func (e *editor) SetMemory(mb int) {
	e.staged = append(e.staged, func(m *Machine) { m.MemoryMB = mb })
}

func (e *editor) SetNIC(slot int, nic hypervisor.NIC) {
	if slot < 0 || slot > 1 {
		e.err = hypervisor.ErrInvalidNICSlot
		return
	}
	e.staged = append(e.staged, func(m *Machine) {
		if slot < len(m.NICs) {
			m.NICs[slot] = nic
		}
	})
}

func (e *editor) SetGuestProperty(key, value string) {
	e.staged = append(e.staged, func(m *Machine) { m.Props[key] = value })
}

func (e *editor) SetBootOrder(devices ...hypervisor.DeviceType) {
	order := append([]hypervisor.DeviceType(nil), devices...)
	e.staged = append(e.staged, func(m *Machine) { m.BootOrder = order })
}

func (e *editor) SetPlatformDefaults() {
	e.staged = append(e.staged, func(m *Machine) { m.Platform = true })
}

func (e *editor) Commit(ctx context.Context) error {
	e.cloud.mu.Lock()
	defer e.cloud.mu.Unlock()
	if e.done {
		return hypervisor.ErrEditorClosed
	}
	e.done = true
	e.m.Session = hypervisor.SessionUnlocked
	if e.err != nil {
		return e.err
	}
	if err := e.cloud.record("Commit", e.m.Name); err != nil {
		return err
	}
	for _, apply := range e.staged {
		apply(e.m)
	}
	return nil
}

func (e *editor) Discard() error {
	e.cloud.mu.Lock()
	defer e.cloud.mu.Unlock()
	if e.done {
		return nil
	}
	e.done = true
	e.m.Session = hypervisor.SessionUnlocked
	return nil
}
