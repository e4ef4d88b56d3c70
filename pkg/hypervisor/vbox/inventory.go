package vbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lencap/vm/pkg/hypervisor"
)

// FindVM implements hypervisor.Inventory.
func (s *Session) FindVM(ctx context.Context, name string) (*hypervisor.VM, bool, error) {
	vms, err := s.ListVMs(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, vm := range vms {
		if vm.Name == name {
			return vm, true, nil
		}
	}
	return nil, false, nil
}

// ListVMs implements hypervisor.Inventory.
func (s *Session) ListVMs(ctx context.Context) ([]*hypervisor.VM, error) {
	out, err := s.run(ctx, "list", "vms")
	if err != nil {
		return nil, err
	}
	var vms []*hypervisor.VM
	for _, v := range parseListVMs(out) {
		vms = append(vms, &hypervisor.VM{Name: v[0], ID: v[1]})
	}
	return vms, nil
}

// CreateVM implements hypervisor.Inventory by importing an OVA appliance.
func (s *Session) CreateVM(ctx context.Context, name, imagePath string, tmpl hypervisor.Template) (*hypervisor.VM, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	if _, found, err := s.FindVM(ctx, name); err != nil {
		return nil, err
	} else if found {
		return nil, hypervisor.ErrAlreadyExists
	}

	dry, err := s.run(ctx, "import", imagePath, "--dry-run")
	if err != nil {
		return nil, err
	}

	args := []string{
		"import", imagePath,
		"--vsys", "0",
		"--vmname", name,
		"--cpus", strconv.Itoa(tmpl.CPUs),
		"--memory", strconv.Itoa(tmpl.MemoryMB),
	}
	if tmpl.BaseDir != "" {
		args = append(args, "--basefolder", tmpl.BaseDir)
	}
	for _, unit := range ignoredUnits(dry, tmpl.DisableUSB, tmpl.DisableAudio) {
		args = append(args, "--unit", strconv.Itoa(unit), "--ignore")
	}
	s.log.Info("importing appliance", "vm", name, "image", filepath.Base(imagePath))
	if _, err := s.run(ctx, args...); err != nil {
		return nil, err
	}

	vm, found, err := s.FindVM(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("import %s: VM %s not registered afterwards", imagePath, name)
	}
	return vm, nil
}

// DeleteVM implements hypervisor.Inventory.
func (s *Session) DeleteVM(ctx context.Context, vm *hypervisor.VM) error {
	_, err := s.run(ctx, "unregistervm", ref(vm), "--delete")
	return err
}

func (s *Session) showInfo(ctx context.Context, vm *hypervisor.VM) (map[string]string, error) {
	out, err := s.run(ctx, "showvminfo", ref(vm), "--machinereadable")
	if err != nil {
		return nil, err
	}
	return parseMachineReadable(out), nil
}

// Info implements hypervisor.Inventory.
func (s *Session) Info(ctx context.Context, vm *hypervisor.VM) (*hypervisor.MachineInfo, error) {
	kv, err := s.showInfo(ctx, vm)
	if err != nil {
		return nil, err
	}
	return machineInfo(kv), nil
}

func machineInfo(kv map[string]string) *hypervisor.MachineInfo {
	info := &hypervisor.MachineInfo{
		ID:          kv["UUID"],
		Name:        kv["name"],
		Description: kv["description"],
		OSType:      kv["ostype"],
		State:       parsePowerState(kv["VMState"]),
		Session:     sessionState(kv),
	}
	info.CPUs, _ = strconv.Atoi(kv["cpus"])
	info.MemoryMB, _ = strconv.Atoi(kv["memory"])

	for slot := 1; slot <= 2; slot++ {
		n := strconv.Itoa(slot)
		att := kv["nic"+n]
		nic := hypervisor.NIC{
			Enabled:     att != "" && att != "none" && att != "null",
			Attachment:  parseAttachment(att),
			Network:     kv["hostonlyadapter"+n],
			AdapterType: kv["nictype"+n],
			MAC:         kv["macaddress"+n],
		}
		if slot == 1 {
			nic.PortForwards = forwardNames(kv)
		}
		info.NICs = append(info.NICs, nic)
	}

	for k, v := range kv {
		if strings.Contains(k, "-ImageUUID-") {
			continue
		}
		switch strings.ToLower(filepath.Ext(v)) {
		case ".vmdk", ".vdi", ".vhd":
			info.Disks = append(info.Disks, v)
		}
	}
	return info
}

// forwardNames returns the NAT redirect rule names of the first NIC, from
// `Forwarding(i)="name,proto,hostip,hostport,guestip,guestport"`.
func forwardNames(kv map[string]string) []string {
	var names []string
	for i := 0; ; i++ {
		rule, ok := kv[fmt.Sprintf("Forwarding(%d)", i)]
		if !ok {
			return names
		}
		name, _, _ := strings.Cut(rule, ",")
		names = append(names, name)
	}
}

func sessionState(kv map[string]string) hypervisor.SessionState {
	switch strings.ToLower(kv["SessionState"]) {
	case "locked":
		return hypervisor.SessionLocked
	case "spawning":
		return hypervisor.SessionSpawning
	case "unlocking":
		return hypervisor.SessionUnlocking
	case "unlocked":
		return hypervisor.SessionUnlocked
	}
	if kv["SessionName"] != "" {
		return hypervisor.SessionLocked
	}
	return hypervisor.SessionUnlocked
}

// GuestProperty implements hypervisor.Inventory.
func (s *Session) GuestProperty(ctx context.Context, vm *hypervisor.VM, key string) (string, error) {
	out, err := s.run(ctx, "guestproperty", "get", ref(vm), key)
	if err != nil {
		return "", err
	}
	return parseGuestProperty(out), nil
}

// SessionState implements hypervisor.Inventory.
func (s *Session) SessionState(ctx context.Context, vm *hypervisor.VM) (hypervisor.SessionState, error) {
	kv, err := s.showInfo(ctx, vm)
	if err != nil {
		return hypervisor.SessionUnlocked, err
	}
	return sessionState(kv), nil
}

// Lock implements hypervisor.Inventory. VBoxManage takes the write lock per
// command, so the returned editor batches changes and replays them on
// Commit; Lock only refuses VMs another session holds.
func (s *Session) Lock(ctx context.Context, vm *hypervisor.VM) (hypervisor.Editor, error) {
	st, err := s.SessionState(ctx, vm)
	if err != nil {
		return nil, err
	}
	if st != hypervisor.SessionUnlocked {
		return nil, hypervisor.ErrLocked
	}
	return &editor{s: s, vm: vm}, nil
}

// ref prefers the UUID, which survives renames.
func ref(vm *hypervisor.VM) string {
	if vm.ID != "" {
		return vm.ID
	}
	return vm.Name
}
