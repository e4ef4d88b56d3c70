package vbox

import (
	"context"
	"strconv"

	"github.com/lencap/vm/pkg/hypervisor"
)

// editor batches modifyvm options and guest property writes.
type editor struct {
	s  *Session
	vm *hypervisor.VM

	modify []string
	nat    map[int]hypervisor.NIC
	props  [][2]string
	err    error
	done   bool
}

func (e *editor) SetCPUs(n int) {
	e.modify = append(e.modify, "--cpus", strconv.Itoa(n))
}

func (e *editor) SetMemory(mb int) {
	e.modify = append(e.modify, "--memory", strconv.Itoa(mb))
}

// SetNIC writes slot (0-based) as VirtualBox adapter slot+1.
func (e *editor) SetNIC(slot int, nic hypervisor.NIC) {
	if slot < 0 || slot > 1 {
		e.err = hypervisor.ErrInvalidNICSlot
		return
	}
	n := strconv.Itoa(slot + 1)
	if !nic.Enabled {
		e.modify = append(e.modify, "--nic"+n, "none")
		return
	}
	e.modify = append(e.modify, "--nic"+n, attachmentName(nic.Attachment))
	if nic.AdapterType != "" {
		e.modify = append(e.modify, "--nictype"+n, nic.AdapterType)
	}
	switch nic.Attachment {
	case hypervisor.AttachHostOnly:
		e.modify = append(e.modify, "--hostonlyadapter"+n, nic.Network)
	case hypervisor.AttachNAT:
		e.modify = append(e.modify, "--natdnspassdomain"+n, "on", "--natdnshostresolver"+n, "on")
		if e.nat == nil {
			e.nat = make(map[int]hypervisor.NIC)
		}
		e.nat[slot+1] = nic
	}
}

func (e *editor) SetGuestProperty(key, value string) {
	e.props = append(e.props, [2]string{key, value})
}

func (e *editor) SetBootOrder(devices ...hypervisor.DeviceType) {
	for i := 0; i < 4; i++ {
		d := hypervisor.DeviceNull
		if i < len(devices) {
			d = devices[i]
		}
		e.modify = append(e.modify, "--boot"+strconv.Itoa(i+1), deviceName(d))
	}
}

func (e *editor) SetPlatformDefaults() {
	e.modify = append(e.modify,
		"--hpet", "on",
		"--rtcuseutc", "on",
		"--ioapic", "on",
		"--biosbootmenu", "disabled",
	)
}

// commands returns the VBoxManage invocations Commit will run, given the
// VM's current NAT redirect rules.
func (e *editor) commands(forwards []string) [][]string {
	var cmds [][]string
	id := ref(e.vm)
	if len(e.modify) > 0 {
		cmds = append(cmds, append([]string{"modifyvm", id}, e.modify...))
	}
	// showvminfo only reports the first adapter's redirect rules.
	if nic, ok := e.nat[1]; ok {
		keep := make(map[string]bool, len(nic.PortForwards))
		for _, name := range nic.PortForwards {
			keep[name] = true
		}
		for _, name := range forwards {
			if !keep[name] {
				cmds = append(cmds, []string{"modifyvm", id, "--natpf1", "delete", name})
			}
		}
	}
	for _, p := range e.props {
		cmds = append(cmds, []string{"guestproperty", "set", id, p[0], p[1]})
	}
	return cmds
}

func (e *editor) Commit(ctx context.Context) error {
	if e.done {
		return hypervisor.ErrEditorClosed
	}
	e.done = true
	if e.err != nil {
		return e.err
	}

	var forwards []string
	if len(e.nat) > 0 {
		kv, err := e.s.showInfo(ctx, e.vm)
		if err != nil {
			return err
		}
		forwards = forwardNames(kv)
	}
	for _, args := range e.commands(forwards) {
		if _, err := e.s.run(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func (e *editor) Discard() error {
	e.done = true
	return nil
}
