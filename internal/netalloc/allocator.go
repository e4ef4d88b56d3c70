package netalloc

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lencap/vm/internal/timing"
	"github.com/lencap/vm/internal/vmerr"
	"github.com/lencap/vm/pkg/hypervisor"
)

// Options tune the allocator's waits.
type Options struct {
	Lock hypervisor.LockPolicy

	// SegmentPoll and SegmentTimeout bound the wait for a new segment to
	// show up in the control plane.
	SegmentPoll    time.Duration
	SegmentTimeout time.Duration

	// AdapterType is the NIC model written for both interfaces.
	AdapterType string
}

// DefaultOptions returns the allocator's standard settings.
func DefaultOptions() Options {
	return Options{
		Lock:           hypervisor.DefaultLockPolicy,
		SegmentPoll:    10 * time.Millisecond,
		SegmentTimeout: 30 * time.Second,
		AdapterType:    "virtio",
	}
}

// Allocator assigns addresses against the live control plane. It holds no
// state of its own; every check re-reads the VMs' guest properties.
type Allocator struct {
	cp   hypervisor.ControlPlane
	opts Options
	log  hclog.Logger
}

// New returns an allocator driving cp.
func New(cp hypervisor.ControlPlane, opts Options, log hclog.Logger) *Allocator {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Allocator{cp: cp, opts: opts, log: log}
}

// Address returns the VM's official address or hypervisor.UndefinedAddress.
func (a *Allocator) Address(ctx context.Context, vm *hypervisor.VM) (string, error) {
	ip, err := hypervisor.ReadAddress(ctx, a.cp, vm)
	return ip, vmerr.Collaborator("read address", err)
}

// Holder returns the name of a VM other than excluding that reports ip, or
// "" when the address is free. excluding may be nil.
func (a *Allocator) Holder(ctx context.Context, ip string, excluding *hypervisor.VM) (string, error) {
	vms, err := a.cp.ListVMs(ctx)
	if err != nil {
		return "", vmerr.Collaborator("list vms", err)
	}
	for _, vm := range vms {
		if excluding != nil && vm.Name == excluding.Name {
			continue
		}
		cur, err := hypervisor.ReadAddress(ctx, a.cp, vm)
		if err != nil {
			return "", vmerr.Collaborator("read address", err)
		}
		if cur == ip {
			return vm.Name, nil
		}
	}
	return "", nil
}

// IsUnique reports whether no VM other than excluding holds ip.
func (a *Allocator) IsUnique(ctx context.Context, ip string, excluding *hypervisor.VM) (bool, error) {
	holder, err := a.Holder(ctx, ip, excluding)
	if err != nil {
		return false, err
	}
	return holder == "", nil
}

// taken snapshots every address in use by VMs other than excluding.
func (a *Allocator) taken(ctx context.Context, excluding *hypervisor.VM) (map[string]bool, error) {
	vms, err := a.cp.ListVMs(ctx)
	if err != nil {
		return nil, vmerr.Collaborator("list vms", err)
	}
	used := make(map[string]bool, len(vms))
	for _, vm := range vms {
		if excluding != nil && vm.Name == excluding.Name {
			continue
		}
		cur, err := hypervisor.ReadAddress(ctx, a.cp, vm)
		if err != nil {
			return nil, vmerr.Collaborator("read address", err)
		}
		used[cur] = true
	}
	return used, nil
}

// NextUnique returns start if it is free, otherwise the next free host
// address in start's /24, stepping the last octet and wrapping from 254 to 2.
// Candidates outside [2,254] are skipped. A full /24 yields
// vmerr.ErrAddressSpaceExhausted after 253 probes.
func (a *Allocator) NextUnique(ctx context.Context, start string) (string, error) {
	if !Validate(start) {
		return "", &vmerr.ValidationError{Field: "ip", Value: start, Reason: "not a dotted-quad IPv4 address"}
	}
	used, err := a.taken(ctx, nil)
	if err != nil {
		return "", err
	}
	return nextFree(start, used)
}

func nextFree(start string, used map[string]bool) (string, error) {
	ip := start
	if n := lastOctet(ip); n < firstHost || n > lastHost {
		ip = next(ip)
	}
	for probes := 0; probes < lastHost-firstHost+1; probes++ {
		if !used[ip] {
			return ip, nil
		}
		ip = next(ip)
	}
	return "", fmt.Errorf("%s.0/24: %w", Prefix(start), vmerr.ErrAddressSpaceExhausted)
}

// DefaultAddress picks an address for a VM that has none it can keep: its
// current address when valid, unreserved and unique, otherwise
// DefaultAddress or the next free address after it.
func (a *Allocator) DefaultAddress(ctx context.Context, vm *hypervisor.VM) (string, error) {
	cur, err := a.Address(ctx, vm)
	if err != nil {
		return "", err
	}
	used, err := a.taken(ctx, vm)
	if err != nil {
		return "", err
	}
	if Validate(cur) && !Reserved(cur) && !used[cur] {
		return cur, nil
	}
	return nextFree(DefaultAddress, used)
}

// ResolveSegment returns the segment whose /24 contains ip, creating one
// with gateway <prefix>.1 when none exists. Creation blocks until the new
// segment is visible.
func (a *Allocator) ResolveSegment(ctx context.Context, ip string) (string, error) {
	prefix := Prefix(ip)
	if name, ok, err := a.findSegment(ctx, prefix); err != nil || ok {
		return name, err
	}

	gw := Gateway(ip)
	a.log.Info("creating network segment", "gateway", gw)
	name, err := a.cp.CreateSegment(ctx, gw)
	if err != nil {
		return "", vmerr.Collaborator("create segment "+gw, err)
	}

	ok, err := timing.Poll(ctx, a.opts.SegmentPoll, a.opts.SegmentTimeout, func(ctx context.Context) (bool, error) {
		_, found, err := a.findSegment(ctx, prefix)
		return found, err
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &vmerr.TimeoutError{Op: "create segment", VM: name, After: a.opts.SegmentTimeout}
	}
	return name, nil
}

func (a *Allocator) findSegment(ctx context.Context, prefix string) (string, bool, error) {
	segs, err := a.cp.ListSegments(ctx)
	if err != nil {
		return "", false, vmerr.Collaborator("list segments", err)
	}
	for _, s := range segs {
		if Prefix(s.Gateway) == prefix {
			return s.Name, true, nil
		}
	}
	return "", false, nil
}

// Assign gives vm the address ip. All checks run before the first write;
// the NIC and property writes are committed together under the VM lock.
//
// NIC0 is NAT for outbound traffic with no SSH port-forward; NIC1 is
// attached to the segment owning ip.
func (a *Allocator) Assign(ctx context.Context, vm *hypervisor.VM, ip string) error {
	if !Validate(ip) {
		return &vmerr.ValidationError{Field: "ip", Value: ip, Reason: "not a dotted-quad IPv4 address"}
	}
	if Reserved(ip) {
		return &vmerr.ValidationError{Field: "ip", Value: ip, Err: vmerr.ErrReservedAddress}
	}
	holder, err := a.Holder(ctx, ip, vm)
	if err != nil {
		return err
	}
	if holder != "" {
		return &vmerr.ConflictError{IP: ip, Holder: holder}
	}

	segment, err := a.ResolveSegment(ctx, ip)
	if err != nil {
		return err
	}

	ed, err := hypervisor.Acquire(ctx, a.cp, vm, a.opts.Lock, a.log)
	if err != nil {
		return vmerr.Collaborator("assign "+ip, err)
	}
	ed.SetNIC(0, hypervisor.NIC{
		Enabled:     true,
		Attachment:  hypervisor.AttachNAT,
		AdapterType: a.opts.AdapterType,
	})
	ed.SetNIC(1, hypervisor.NIC{
		Enabled:     true,
		Attachment:  hypervisor.AttachHostOnly,
		Network:     segment,
		AdapterType: a.opts.AdapterType,
	})
	ed.SetGuestProperty(hypervisor.PropNetIP, ip)
	ed.SetGuestProperty(hypervisor.PropNet1IP, ip)
	ed.SetGuestProperty(hypervisor.PropNet1Broadcast, Broadcast(ip))
	ed.SetGuestProperty(hypervisor.PropNet1Netmask, Netmask)
	if err := ed.Commit(ctx); err != nil {
		ed.Discard()
		return vmerr.Collaborator("assign "+ip, err)
	}

	a.log.Debug("address assigned", "vm", vm.Name, "ip", ip, "segment", segment)
	return nil
}
