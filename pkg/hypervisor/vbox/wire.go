package vbox

import "github.com/lencap/vm/pkg/hypervisor"

// Wire tables between VBoxManage strings and the hypervisor enums. Each
// table is the single source of truth for its direction.

var powerStates = map[string]hypervisor.PowerState{
	"poweroff":       hypervisor.StatePoweredOff,
	"running":        hypervisor.StateRunning,
	"paused":         hypervisor.StatePaused,
	"stuck":          hypervisor.StateStuck,
	"gurumeditation": hypervisor.StateStuck,
	"aborted":        hypervisor.StateAborted,
	"saved":          hypervisor.StateSaved,
	"starting":       hypervisor.StateStarting,
	"stopping":       hypervisor.StateStopping,
	"saving":         hypervisor.StateSaving,
	"restoring":      hypervisor.StateRestoring,
}

func parsePowerState(s string) hypervisor.PowerState {
	if st, ok := powerStates[s]; ok {
		return st
	}
	return hypervisor.StateUnknown
}

var attachmentNames = map[hypervisor.AttachmentType]string{
	hypervisor.AttachNone:     "none",
	hypervisor.AttachNAT:      "nat",
	hypervisor.AttachHostOnly: "hostonly",
}

func attachmentName(a hypervisor.AttachmentType) string {
	if s, ok := attachmentNames[a]; ok {
		return s
	}
	return "none"
}

func parseAttachment(s string) hypervisor.AttachmentType {
	switch s {
	case "nat":
		return hypervisor.AttachNAT
	case "hostonly":
		return hypervisor.AttachHostOnly
	default:
		return hypervisor.AttachNone
	}
}

var deviceNames = map[hypervisor.DeviceType]string{
	hypervisor.DeviceNull:     "none",
	hypervisor.DeviceHardDisk: "disk",
	hypervisor.DeviceDVD:      "dvd",
	hypervisor.DeviceFloppy:   "floppy",
	hypervisor.DeviceNetwork:  "net",
}

func deviceName(d hypervisor.DeviceType) string {
	if s, ok := deviceNames[d]; ok {
		return s
	}
	return "none"
}

var frontendNames = map[hypervisor.Frontend]string{
	hypervisor.FrontendHeadless: "headless",
	hypervisor.FrontendGUI:      "gui",
}

func frontendName(f hypervisor.Frontend) string {
	if s, ok := frontendNames[f]; ok {
		return s
	}
	return "headless"
}
