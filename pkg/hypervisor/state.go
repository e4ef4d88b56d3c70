package hypervisor

// PowerState is the VM power state as tracked by the control plane.
type PowerState int

const (
	StateUnknown PowerState = iota
	StatePoweredOff
	StateRunning
	StatePaused
	StateStuck
	StateAborted
	StateSaved
	StateStarting  // transient
	StateStopping  // transient
	StateSaving    // transient
	StateRestoring // transient
)

func (s PowerState) String() string {
	switch s {
	case StatePoweredOff:
		return "PoweredOff"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateStuck:
		return "Stuck"
	case StateAborted:
		return "Aborted"
	case StateSaved:
		return "Saved"
	case StateStarting:
		return "Starting"
	case StateStopping:
		return "Stopping"
	case StateSaving:
		return "Saving"
	case StateRestoring:
		return "Restoring"
	default:
		return "Unknown"
	}
}

// Off reports whether the state is power-equivalent to PoweredOff.
// Aborted is what a killed VM is left in.
func (s PowerState) Off() bool {
	return s == StatePoweredOff || s == StateAborted
}

// Transient reports whether the state is a short-lived transition.
func (s PowerState) Transient() bool {
	switch s {
	case StateStarting, StateStopping, StateSaving, StateRestoring:
		return true
	}
	return false
}

// SessionState is the lock state of a VM's session.
type SessionState int

const (
	SessionUnlocked SessionState = iota
	SessionLocked
	SessionSpawning
	SessionUnlocking
)

func (s SessionState) String() string {
	switch s {
	case SessionUnlocked:
		return "Unlocked"
	case SessionLocked:
		return "Locked"
	case SessionSpawning:
		return "Spawning"
	case SessionUnlocking:
		return "Unlocking"
	default:
		return "Unknown"
	}
}

// AttachmentType is how a NIC is attached to the host.
type AttachmentType int

const (
	AttachNone AttachmentType = iota
	AttachNAT
	AttachHostOnly
)

func (a AttachmentType) String() string {
	switch a {
	case AttachNAT:
		return "NAT"
	case AttachHostOnly:
		return "HostOnly"
	default:
		return "None"
	}
}

// DeviceType is a bootable device class.
type DeviceType int

const (
	DeviceNull DeviceType = iota
	DeviceHardDisk
	DeviceDVD
	DeviceFloppy
	DeviceNetwork
)

func (d DeviceType) String() string {
	switch d {
	case DeviceHardDisk:
		return "HardDisk"
	case DeviceDVD:
		return "DVD"
	case DeviceFloppy:
		return "Floppy"
	case DeviceNetwork:
		return "Network"
	default:
		return "Null"
	}
}

// Frontend selects how a VM process is launched.
type Frontend int

const (
	FrontendHeadless Frontend = iota
	FrontendGUI
)

func (f Frontend) String() string {
	if f == FrontendGUI {
		return "gui"
	}
	return "headless"
}
