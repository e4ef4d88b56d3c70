package vbox

import (
	"reflect"
	"regexp"
	"testing"

	"github.com/lencap/vm/pkg/hypervisor"
)

const showvminfo = `name="dev1"
description="fleet member"
ostype="RedHat_64"
UUID="6b2c2f7e-0a3e-4d55-9a0e-4f3b8f1a2c11"
memory=2048
cpus=2
VMState="running"
VMStateChangeTime="2026-03-01T10:00:00.000000000"
SessionName="headless"
"SATA-0-0"="/home/u/.vm/dev1/dev1-disk1.vmdk"
"SATA-ImageUUID-0-0"="0d9c4f1e-1111-2222-3333-444455556666"
nic1="nat"
nictype1="virtio"
macaddress1="080027AABBCC"
Forwarding(0)="ssh,tcp,,2222,,22"
Forwarding(1)="web,tcp,,8080,,80"
nic2="hostonly"
hostonlyadapter2="vboxnet1"
nictype2="virtio"
macaddress2="080027DDEEFF"
`

func TestMachineInfo(t *testing.T) {
	info := machineInfo(parseMachineReadable(showvminfo))

	if info.Name != "dev1" || info.ID != "6b2c2f7e-0a3e-4d55-9a0e-4f3b8f1a2c11" || info.OSType != "RedHat_64" {
		t.Errorf("identity = %+v", info)
	}
	if info.CPUs != 2 || info.MemoryMB != 2048 {
		t.Errorf("resources = %d/%d", info.CPUs, info.MemoryMB)
	}
	if info.State != hypervisor.StateRunning || info.Session != hypervisor.SessionLocked {
		t.Errorf("state = %s/%s", info.State, info.Session)
	}
	if len(info.NICs) != 2 {
		t.Fatalf("NICs = %+v", info.NICs)
	}
	if info.NICs[0].Attachment != hypervisor.AttachNAT || !reflect.DeepEqual(info.NICs[0].PortForwards, []string{"ssh", "web"}) {
		t.Errorf("NIC1 = %+v", info.NICs[0])
	}
	if info.NICs[1].Attachment != hypervisor.AttachHostOnly || info.NICs[1].Network != "vboxnet1" {
		t.Errorf("NIC2 = %+v", info.NICs[1])
	}
	if !reflect.DeepEqual(info.Disks, []string{"/home/u/.vm/dev1/dev1-disk1.vmdk"}) {
		t.Errorf("Disks = %v", info.Disks)
	}
}

func TestSplitAssignment(t *testing.T) {
	tests := []struct {
		line, key, val string
		ok             bool
	}{
		{`name="dev1"`, "name", "dev1", true},
		{`cpus=2`, "cpus", "2", true},
		{`"SATA-0-0"="/a=b.vmdk"`, "SATA-0-0", "/a=b.vmdk", true},
		{`description="a=b"`, "description", "a=b", true},
		{`garbage`, "", "", false},
		{`"unterminated=1`, "", "", false},
	}
	for _, tt := range tests {
		key, val, ok := splitAssignment(tt.line)
		if key != tt.key || val != tt.val || ok != tt.ok {
			t.Errorf("splitAssignment(%q) = %q, %q, %v", tt.line, key, val, ok)
		}
	}
}

func TestParseListVMs(t *testing.T) {
	out := `"dev1" {6b2c2f7e-0a3e-4d55-9a0e-4f3b8f1a2c11}
"my vm" {11111111-2222-3333-4444-555555555555}
<inaccessible> {99999999-2222-3333-4444-555555555555}
`
	got := parseListVMs(out)
	want := [][2]string{
		{"dev1", "6b2c2f7e-0a3e-4d55-9a0e-4f3b8f1a2c11"},
		{"my vm", "11111111-2222-3333-4444-555555555555"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseListVMs() = %v, want %v", got, want)
	}
}

func TestParseSegments(t *testing.T) {
	out := `Name:            vboxnet0
GUID:            786f6276-656e-4074-8000-0a0027000000
DHCP:            Enabled
IPAddress:       192.168.56.1
NetworkMask:     255.255.255.0
Status:          Up
VBoxNetworkName: HostInterfaceNetworking-vboxnet0

Name:            vboxnet1
GUID:            786f6276-656e-4174-8000-0a0027000001
DHCP:            Disabled
IPAddress:       10.11.12.1
NetworkMask:     255.255.255.0
Status:          Down
`
	got := parseSegments(out)
	want := []hypervisor.Segment{
		{Name: "vboxnet0", Gateway: "192.168.56.1", Netmask: "255.255.255.0", DHCP: true, Up: true},
		{Name: "vboxnet1", Gateway: "10.11.12.1", Netmask: "255.255.255.0"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseSegments() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestParseGuestProperty(t *testing.T) {
	if got := parseGuestProperty("Value: 10.11.12.2\n"); got != "10.11.12.2" {
		t.Errorf("got %q", got)
	}
	if got := parseGuestProperty("No value set!\n"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestIgnoredUnits(t *testing.T) {
	out := `Interpreting /home/u/.vm/cos72.ova...
OK.
Virtual system 0:
 0: Suggested OS type: "RedHat_64"
 1: Suggested VM name "cos72"
 2: Number of CPUs: 1
 3: Guest memory: 1024 MB
 4: USB controller
    (disable with "--vsys 0 --unit 4 --ignore")
 5: Network adapter: orig NAT, config 3, extra slot=0;type=NAT
 6: Sound card (appliance expects "", can change on import)
    (disable with "--vsys 0 --unit 6 --ignore")
 7: IDE controller, type PIIX4
10: Hard disk image: source image=cos72-disk1.vmdk
`
	if got := ignoredUnits(out, true, true); !reflect.DeepEqual(got, []int{4, 6}) {
		t.Errorf("ignoredUnits(usb, audio) = %v", got)
	}
	if got := ignoredUnits(out, false, true); !reflect.DeepEqual(got, []int{6}) {
		t.Errorf("ignoredUnits(audio) = %v", got)
	}
}

func TestParseHostInfo(t *testing.T) {
	out := `Host Information:

Host time: 2026-03-01T10:00:00.000000000Z
Processor online count: 8
Processor count: 8
Memory size: 16384 MByte
Memory available: 9120 MByte
`
	cpus, mem := parseHostInfo(out)
	if cpus != 8 || mem != 9120 {
		t.Errorf("parseHostInfo() = %d, %d", cpus, mem)
	}
}

func TestWireTables(t *testing.T) {
	for wire, st := range powerStates {
		if got := parsePowerState(wire); got != st {
			t.Errorf("parsePowerState(%q) = %s", wire, got)
		}
	}
	if parsePowerState("teleporting") != hypervisor.StateUnknown {
		t.Error("unknown VMState not mapped to Unknown")
	}
	for a, wire := range attachmentNames {
		if parseAttachment(wire) != a {
			t.Errorf("attachment %s does not round-trip through %q", a, wire)
		}
	}
	if deviceName(hypervisor.DeviceHardDisk) != "disk" || frontendName(hypervisor.FrontendGUI) != "gui" {
		t.Error("device/frontend names")
	}
}

func TestParsePIDs(t *testing.T) {
	if got := parsePIDs("123\n456\nbogus\n"); !reflect.DeepEqual(got, []int{123, 456}) {
		t.Errorf("parsePIDs() = %v", got)
	}
}

func TestProcessPattern(t *testing.T) {
	tests := []struct {
		name  string
		match string
		other string
	}{
		{"web+1", "VBoxHeadless --comment web+1 --startvm 1234", "VBoxHeadless --comment webb1 --startvm 1234"},
		{"db(1)", "VBoxHeadless --comment db(1) --startvm 1234", "VBoxHeadless --comment db1 --startvm 1234"},
		{"a.b", "VBoxHeadless --comment a.b --startvm 1234", "VBoxHeadless --comment axb --startvm 1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := regexp.Compile(processPattern(tt.name))
			if err != nil {
				t.Fatalf("pattern for %q does not compile: %v", tt.name, err)
			}
			if !re.MatchString(tt.match) {
				t.Errorf("%q does not match %q", re, tt.match)
			}
			if re.MatchString(tt.other) {
				t.Errorf("%q matches %q", re, tt.other)
			}
		})
	}
}
