package fleet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/lencap/vm/internal/netalloc"
	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
)

// Host headroom kept free by Modify.
const (
	MinFreeCPUs     = 2
	MinFreeMemoryMB = 1024
)

// Machines creates and reconfigures individual VMs.
type Machines struct {
	cp       hypervisor.ControlPlane
	alloc    *netalloc.Allocator
	imageDir string
	lock     hypervisor.LockPolicy
	log      hclog.Logger
}

// NewMachines returns a Machines importing images from imageDir.
func NewMachines(cp hypervisor.ControlPlane, alloc *netalloc.Allocator, imageDir string, lock hypervisor.LockPolicy, log hclog.Logger) *Machines {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Machines{cp: cp, alloc: alloc, imageDir: imageDir, lock: lock, log: log}
}

// EnsureOptions tune EnsureVM.
type EnsureOptions struct {
	// AssignDefaultIP gives a newly created VM a usable address.
	AssignDefaultIP bool
}

// ImagePath resolves an image name inside the image directory.
func (m *Machines) ImagePath(image string) string {
	if filepath.IsAbs(image) {
		return image
	}
	return filepath.Join(m.imageDir, image)
}

// EnsureVM returns the named VM, importing it from image when it does not
// exist yet. The boolean reports whether it was created by this call.
func (m *Machines) EnsureVM(ctx context.Context, name, image string, opts EnsureOptions) (*hypervisor.VM, bool, error) {
	vm, found, err := m.cp.FindVM(ctx, name)
	if err != nil {
		return nil, false, vmerr.Collaborator("find "+name, err)
	}
	if found {
		return vm, false, nil
	}

	path := m.ImagePath(image)
	if _, err := os.Stat(path); err != nil {
		return nil, false, &vmerr.ValidationError{Field: "image", Value: image, Err: fmt.Errorf("%s: %w", path, vmerr.ErrNotFound)}
	}

	tmpl := hypervisor.DefaultTemplate(m.imageDir)
	m.log.Info("importing image", "vm", name, "image", path)
	vm, err = m.cp.CreateVM(ctx, name, path, tmpl)
	if err != nil {
		return nil, false, vmerr.Collaborator("create "+name, err)
	}

	ed, err := hypervisor.Acquire(ctx, m.cp, vm, m.lock, m.log)
	if err != nil {
		return vm, true, vmerr.Collaborator("configure "+name, err)
	}
	ed.SetBootOrder(hypervisor.DeviceHardDisk, hypervisor.DeviceNull, hypervisor.DeviceNull, hypervisor.DeviceNull)
	ed.SetPlatformDefaults()
	if err := ed.Commit(ctx); err != nil {
		ed.Discard()
		return vm, true, vmerr.Collaborator("configure "+name, err)
	}

	if opts.AssignDefaultIP {
		ip, err := m.alloc.DefaultAddress(ctx, vm)
		if err != nil {
			return vm, true, err
		}
		if err := m.alloc.Assign(ctx, vm, ip); err != nil {
			return vm, true, err
		}
	}
	return vm, true, nil
}

// Modify sets the CPU count and memory of a stopped VM. The host must keep
// MinFreeCPUs CPUs and MinFreeMemoryMB of memory unassigned.
func (m *Machines) Modify(ctx context.Context, vm *hypervisor.VM, cpus, memoryMB int) error {
	tmpl := hypervisor.Template{CPUs: cpus, MemoryMB: memoryMB}
	if err := tmpl.Validate(); err != nil {
		return &vmerr.ValidationError{Field: "resources", Value: fmt.Sprintf("%d cpus/%d MB", cpus, memoryMB), Err: err}
	}

	state, err := m.cp.PowerState(ctx, vm)
	if err != nil {
		return vmerr.Collaborator("power state of "+vm.Name, err)
	}
	if state == hypervisor.StateRunning {
		return &vmerr.PreconditionError{VM: vm.Name, State: state.String(), Want: "needs to be powered off for this"}
	}

	host, err := m.cp.Host(ctx)
	if err != nil {
		return vmerr.Collaborator("host info", err)
	}
	if host.CPUs-cpus < MinFreeCPUs {
		return &vmerr.ValidationError{Field: "cpus", Value: fmt.Sprint(cpus), Reason: fmt.Sprintf("host only has %d CPUs; assigning %d will oversubscribe it", host.CPUs, cpus)}
	}
	if host.MemoryAvailableMB-memoryMB < MinFreeMemoryMB {
		return &vmerr.ValidationError{Field: "memory", Value: fmt.Sprint(memoryMB), Reason: fmt.Sprintf("host only has %dMB available; assigning %dMB will oversubscribe it", host.MemoryAvailableMB, memoryMB)}
	}

	ed, err := hypervisor.Acquire(ctx, m.cp, vm, m.lock, m.log)
	if err != nil {
		return vmerr.Collaborator("modify "+vm.Name, err)
	}
	ed.SetCPUs(cpus)
	ed.SetMemory(memoryMB)
	ed.SetPlatformDefaults()
	if err := ed.Commit(ctx); err != nil {
		ed.Discard()
		return vmerr.Collaborator("modify "+vm.Name, err)
	}
	return nil
}
