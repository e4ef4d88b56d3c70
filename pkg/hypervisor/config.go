package hypervisor

// Template holds the settings applied to a VM imported from an image.
type Template struct {
	// CPUs is the number of virtual CPUs.
	CPUs int

	// MemoryMB is the amount of memory in megabytes.
	MemoryMB int

	// BaseDir is where the VM's disks are placed.
	BaseDir string

	// DisableUSB and DisableAudio drop the corresponding devices from the
	// image description before import.
	DisableUSB   bool
	DisableAudio bool
}

// DefaultTemplate returns the settings every new VM starts with.
func DefaultTemplate(baseDir string) Template {
	return Template{
		CPUs:         1,
		MemoryMB:     1024,
		BaseDir:      baseDir,
		DisableUSB:   true,
		DisableAudio: true,
	}
}

// Validate performs basic validation of the template.
func (t *Template) Validate() error {
	if t.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if t.MemoryMB < 128 {
		return ErrInsufficientMemory
	}
	return nil
}

// NIC describes one network adapter slot.
type NIC struct {
	Enabled    bool
	Attachment AttachmentType

	// Network is the host-only segment name for AttachHostOnly.
	Network string

	// AdapterType is the emulated device model, e.g. "virtio".
	AdapterType string

	// MAC is informational and never written.
	MAC string

	// PortForwards lists NAT redirect rule names. Writing a NAT NIC removes
	// any rule not listed here.
	PortForwards []string
}

// Segment is a host-only private network.
type Segment struct {
	Name    string
	Gateway string
	Netmask string
	DHCP    bool
	Up      bool
}

// MachineInfo is a snapshot of a VM's observed state.
type MachineInfo struct {
	ID          string
	Name        string
	Description string
	OSType      string
	CPUs        int
	MemoryMB    int
	State       PowerState
	Session     SessionState
	NICs        []NIC
	Disks       []string
}
