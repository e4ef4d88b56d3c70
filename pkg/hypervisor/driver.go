// Package hypervisor provides the control-plane contract the fleet
// components drive, plus the closed enumerations and the per-VM handle built
// on top of it. Backends (VirtualBox, the in-memory fake) satisfy
// ControlPlane.
package hypervisor

import "context"

// VM identifies one machine registered with the control plane.
type VM struct {
	ID   string
	Name string
}

// ControlPlane is the session a command holds against the hypervisor.
// It is created once per invocation and must be closed by its owner.
type ControlPlane interface {
	Inventory
	Lifecycle
	Networks

	// Host reports host capacity used by oversubscription checks.
	Host(ctx context.Context) (HostInfo, error)

	// Close releases the session.
	Close() error
}

// Inventory defines VM registration, inspection and configuration.
type Inventory interface {
	// FindVM looks a VM up by name. A missing VM is reported through the
	// boolean, not through the error.
	FindVM(ctx context.Context, name string) (*VM, bool, error)

	// ListVMs returns every registered VM.
	ListVMs(ctx context.Context) ([]*VM, error)

	// CreateVM imports imagePath as a new VM. Callers check existence first.
	CreateVM(ctx context.Context, name, imagePath string, tmpl Template) (*VM, error)

	// DeleteVM unregisters the VM and removes its disks.
	DeleteVM(ctx context.Context, vm *VM) error

	// Info returns a fresh snapshot of the VM's observed state.
	Info(ctx context.Context, vm *VM) (*MachineInfo, error)

	// GuestProperty returns a guest property value, "" when unset.
	GuestProperty(ctx context.Context, vm *VM, key string) (string, error)

	// SessionState reports whether another session holds the VM.
	SessionState(ctx context.Context, vm *VM) (SessionState, error)

	// Lock takes the exclusive configuration lock. Writes staged on the
	// returned Editor take effect on Commit.
	Lock(ctx context.Context, vm *VM) (Editor, error)
}

// Lifecycle defines VM power operations.
type Lifecycle interface {
	// PowerState returns the current power state.
	PowerState(ctx context.Context, vm *VM) (PowerState, error)

	// StartProcess launches the VM process and returns once the launch
	// request completed. The VM may still be booting.
	StartProcess(ctx context.Context, vm *VM, fe Frontend) error

	// PowerDown requests an API-level power off.
	PowerDown(ctx context.Context, vm *VM) error

	// PowerButton presses the virtual ACPI power button.
	PowerButton(ctx context.Context, vm *VM) error

	// ForceKill terminates the process backing the VM.
	ForceKill(ctx context.Context, vm *VM) error
}

// Networks defines host-only network segment management.
type Networks interface {
	ListSegments(ctx context.Context) ([]Segment, error)

	// CreateSegment creates a segment with the given gateway address and a
	// /24 netmask, DHCP disabled. It returns the generated segment name.
	CreateSegment(ctx context.Context, gateway string) (string, error)

	DeleteSegment(ctx context.Context, name string) error
}

// Editor stages configuration writes made under the VM lock.
// Nothing is written until Commit; Discard releases the lock unchanged.
type Editor interface {
	SetCPUs(n int)
	SetMemory(mb int)
	SetNIC(slot int, nic NIC)
	SetGuestProperty(key, value string)
	SetBootOrder(devices ...DeviceType)

	// SetPlatformDefaults enables HPET, UTC clock and I/O APIC and disables
	// the firmware boot menu.
	SetPlatformDefaults()

	Commit(ctx context.Context) error
	Discard() error
}

// HostInfo describes host capacity.
type HostInfo struct {
	CPUs              int
	MemoryAvailableMB int
}
