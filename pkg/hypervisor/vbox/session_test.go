package vbox

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/lencap/vm/pkg/hypervisor"
)

// script answers VBoxManage invocations by argument prefix and records them.
type script struct {
	answers map[string]string
	fail    map[string]error
	calls   []string
}

func (s *script) run(ctx context.Context, args ...string) (string, error) {
	line := strings.Join(args, " ")
	s.calls = append(s.calls, line)
	for prefix, err := range s.fail {
		if strings.HasPrefix(line, prefix) {
			return "", err
		}
	}
	best := ""
	for prefix := range s.answers {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return s.answers[best], nil
}

func newScripted(answers map[string]string) (*Session, *script) {
	sc := &script{answers: answers, fail: map[string]error{}}
	return newSession(sc.run, nil), sc
}

var dev1 = &hypervisor.VM{ID: "6b2c2f7e-0a3e-4d55-9a0e-4f3b8f1a2c11", Name: "dev1"}

func TestFindVM(t *testing.T) {
	s, _ := newScripted(map[string]string{
		"list vms": `"dev1" {6b2c2f7e-0a3e-4d55-9a0e-4f3b8f1a2c11}` + "\n",
	})
	ctx := context.Background()

	vm, ok, err := s.FindVM(ctx, "dev1")
	if err != nil || !ok || vm.ID != dev1.ID {
		t.Errorf("FindVM(dev1) = %+v, %v, %v", vm, ok, err)
	}
	if _, ok, err := s.FindVM(ctx, "nope"); ok || err != nil {
		t.Errorf("FindVM(nope) = %v, %v", ok, err)
	}
}

func TestCreateVMIgnoresUSBAndAudio(t *testing.T) {
	s, sc := newScripted(map[string]string{
		"import /img/cos72.ova --dry-run": " 4: USB controller\n 6: Sound card\n",
	})
	listCalls := 0
	run := sc.run
	s.invoke = func(ctx context.Context, args ...string) (string, error) {
		if strings.Join(args, " ") == "list vms" {
			listCalls++
			if listCalls > 1 {
				return `"dev1" {6b2c2f7e-0a3e-4d55-9a0e-4f3b8f1a2c11}` + "\n", nil
			}
		}
		return run(ctx, args...)
	}

	vm, err := s.CreateVM(context.Background(), "dev1", "/img/cos72.ova", hypervisor.DefaultTemplate("/home/u/.vm"))
	if err != nil {
		t.Fatalf("CreateVM() error = %v", err)
	}
	if vm.Name != "dev1" {
		t.Errorf("vm = %+v", vm)
	}
	want := "import /img/cos72.ova --vsys 0 --vmname dev1 --cpus 1 --memory 1024 --basefolder /home/u/.vm --unit 4 --ignore --unit 6 --ignore"
	found := false
	for _, c := range sc.calls {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Errorf("import call missing; calls:\n%s", strings.Join(sc.calls, "\n"))
	}
}

func TestCreateVMExisting(t *testing.T) {
	s, _ := newScripted(map[string]string{
		"list vms": `"dev1" {6b2c2f7e-0a3e-4d55-9a0e-4f3b8f1a2c11}` + "\n",
	})
	_, err := s.CreateVM(context.Background(), "dev1", "/img/x.ova", hypervisor.DefaultTemplate(""))
	if !errors.Is(err, hypervisor.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestEditorCommit(t *testing.T) {
	s, sc := newScripted(map[string]string{
		"showvminfo": "VMState=\"poweroff\"\nForwarding(0)=\"ssh,tcp,,2222,,22\"\n",
	})
	ctx := context.Background()

	ed, err := s.Lock(ctx, dev1)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	ed.SetCPUs(2)
	ed.SetNIC(0, hypervisor.NIC{Enabled: true, Attachment: hypervisor.AttachNAT, AdapterType: "virtio"})
	ed.SetNIC(1, hypervisor.NIC{Enabled: true, Attachment: hypervisor.AttachHostOnly, Network: "vboxnet1", AdapterType: "virtio"})
	ed.SetBootOrder(hypervisor.DeviceHardDisk)
	ed.SetGuestProperty(hypervisor.PropNetIP, "10.11.12.2")
	sc.calls = nil

	if err := ed.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	id := dev1.ID
	want := []string{
		"showvminfo " + id + " --machinereadable",
		"modifyvm " + id + " --cpus 2 --nic1 nat --nictype1 virtio --natdnspassdomain1 on --natdnshostresolver1 on" +
			" --nic2 hostonly --nictype2 virtio --hostonlyadapter2 vboxnet1 --boot1 disk --boot2 none --boot3 none --boot4 none",
		"modifyvm " + id + " --natpf1 delete ssh",
		"guestproperty set " + id + " /vm/netip 10.11.12.2",
	}
	if !reflect.DeepEqual(sc.calls, want) {
		t.Errorf("calls =\n%s\nwant\n%s", strings.Join(sc.calls, "\n"), strings.Join(want, "\n"))
	}

	if err := ed.Commit(ctx); !errors.Is(err, hypervisor.ErrEditorClosed) {
		t.Errorf("second Commit() = %v", err)
	}
}

func TestEditorRejectsBadSlot(t *testing.T) {
	s, sc := newScripted(map[string]string{"showvminfo": "VMState=\"poweroff\"\n"})
	ctx := context.Background()

	ed, err := s.Lock(ctx, dev1)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	ed.SetCPUs(2)
	ed.SetNIC(2, hypervisor.NIC{Enabled: true, Attachment: hypervisor.AttachNAT})
	sc.calls = nil

	if err := ed.Commit(ctx); !errors.Is(err, hypervisor.ErrInvalidNICSlot) {
		t.Errorf("Commit() = %v, want ErrInvalidNICSlot", err)
	}
	if len(sc.calls) != 0 {
		t.Errorf("calls = %v, want none", sc.calls)
	}
}

func TestLockRefusesHeldSession(t *testing.T) {
	s, _ := newScripted(map[string]string{
		"showvminfo": "VMState=\"running\"\nSessionName=\"headless\"\n",
	})
	if _, err := s.Lock(context.Background(), dev1); !errors.Is(err, hypervisor.ErrLocked) {
		t.Errorf("Lock() = %v, want ErrLocked", err)
	}
}

func TestCreateSegment(t *testing.T) {
	s, sc := newScripted(map[string]string{
		"hostonlyif create": "0%...100%\nInterface 'vboxnet3' was successfully created\n",
	})
	name, err := s.CreateSegment(context.Background(), "10.11.12.1")
	if err != nil || name != "vboxnet3" {
		t.Fatalf("CreateSegment() = %q, %v", name, err)
	}
	if last := sc.calls[len(sc.calls)-1]; last != "hostonlyif ipconfig vboxnet3 --ip 10.11.12.1 --netmask 255.255.255.0" {
		t.Errorf("last call = %q", last)
	}
}

func TestCreateSegmentRollsBack(t *testing.T) {
	s, sc := newScripted(map[string]string{
		"hostonlyif create": "Interface 'vboxnet3' was successfully created\n",
	})
	sc.fail["hostonlyif ipconfig"] = errors.New("E_ACCESSDENIED")

	if _, err := s.CreateSegment(context.Background(), "10.11.12.1"); err == nil {
		t.Fatal("CreateSegment() succeeded")
	}
	if last := sc.calls[len(sc.calls)-1]; last != "hostonlyif remove vboxnet3" {
		t.Errorf("last call = %q, want remove", last)
	}
}

func TestDeleteSegmentMissing(t *testing.T) {
	s, _ := newScripted(map[string]string{"list hostonlyifs": ""})
	if err := s.DeleteSegment(context.Background(), "vboxnet9"); !errors.Is(err, hypervisor.ErrSegmentNotFound) {
		t.Errorf("DeleteSegment() = %v", err)
	}
}

func TestPowerCommands(t *testing.T) {
	s, sc := newScripted(map[string]string{"showvminfo": "VMState=\"gurumeditation\"\n"})
	ctx := context.Background()

	st, err := s.PowerState(ctx, dev1)
	if err != nil || st != hypervisor.StateStuck {
		t.Errorf("PowerState() = %s, %v", st, err)
	}
	s.StartProcess(ctx, dev1, hypervisor.FrontendGUI)
	s.PowerDown(ctx, dev1)
	s.PowerButton(ctx, dev1)

	want := []string{
		"showvminfo " + dev1.ID + " --machinereadable",
		"startvm " + dev1.ID + " --type gui",
		"controlvm " + dev1.ID + " poweroff",
		"controlvm " + dev1.ID + " acpipowerbutton",
	}
	if !reflect.DeepEqual(sc.calls, want) {
		t.Errorf("calls = %v", sc.calls)
	}
}

func TestClosedSessionRefusesCommands(t *testing.T) {
	s, sc := newScripted(map[string]string{
		"list vms": `"dev1" {6b2c2f7e-0a3e-4d55-9a0e-4f3b8f1a2c11}` + "\n",
	})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, _, err := s.FindVM(context.Background(), "dev1"); !errors.Is(err, hypervisor.ErrSessionClosed) {
		t.Errorf("FindVM() after Close err = %v, want ErrSessionClosed", err)
	}
	if len(sc.calls) != 0 {
		t.Errorf("VBoxManage invoked after Close: %v", sc.calls)
	}
}

func TestNewWithoutVBoxManage(t *testing.T) {
	_, err := New(context.Background(), Options{Path: "/nonexistent/VBoxManage"})
	if !errors.Is(err, hypervisor.ErrUnsupportedPlatform) {
		t.Errorf("New() = %v, want ErrUnsupportedPlatform", err)
	}
}
