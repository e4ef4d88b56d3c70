package hypervisor

import (
	"context"
	"fmt"
)

// Guest property keys holding a VM's address. PropNetIP is the official
// location; the GuestInfo keys are kept in sync for older readers.
const (
	PropNetIP         = "/vm/netip"
	PropHostname      = "/vm/hostname"
	PropNet1IP        = "/VirtualBox/GuestInfo/Net/1/V4/IP"
	PropNet1Broadcast = "/VirtualBox/GuestInfo/Net/1/V4/Broadcast"
	PropNet1Netmask   = "/VirtualBox/GuestInfo/Net/1/V4/Netmask"
	PropNet0IP        = "/VirtualBox/GuestInfo/Net/0/V4/IP"
)

// UndefinedAddress is reported for a VM with no address in any property.
const UndefinedAddress = "<undefined>"

// addressKeys is the lookup order used by ReadAddress.
var addressKeys = []string{PropNetIP, PropNet1IP, PropNet0IP}

// ReadAddress returns the VM's official address, falling back to the
// guest-reported interface addresses, or UndefinedAddress.
func ReadAddress(ctx context.Context, inv Inventory, vm *VM) (string, error) {
	for _, key := range addressKeys {
		v, err := inv.GuestProperty(ctx, vm, key)
		if err != nil {
			return "", fmt.Errorf("read %s of %s: %w", key, vm.Name, err)
		}
		if v != "" {
			return v, nil
		}
	}
	return UndefinedAddress, nil
}

// Handle is a read view over one VM. Every call goes back to the control
// plane; nothing is cached.
type Handle struct {
	cp ControlPlane
	vm *VM
}

// NewHandle binds vm to the control plane.
func NewHandle(cp ControlPlane, vm *VM) *Handle {
	return &Handle{cp: cp, vm: vm}
}

// VM returns the underlying identifier.
func (h *Handle) VM() *VM { return h.vm }

// Name returns the VM name.
func (h *Handle) Name() string { return h.vm.Name }

// Info returns a fresh snapshot.
func (h *Handle) Info(ctx context.Context) (*MachineInfo, error) {
	return h.cp.Info(ctx, h.vm)
}

// State returns the current power state.
func (h *Handle) State(ctx context.Context) (PowerState, error) {
	return h.cp.PowerState(ctx, h.vm)
}

// Address returns the VM's official address or UndefinedAddress.
func (h *Handle) Address(ctx context.Context) (string, error) {
	return ReadAddress(ctx, h.cp, h.vm)
}
