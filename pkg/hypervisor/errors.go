package hypervisor

import "errors"

// Configuration errors
var (
	ErrInvalidCPUCount    = errors.New("hypervisor: CPU count must be at least 1")
	ErrInsufficientMemory = errors.New("hypervisor: memory must be at least 128MB")
	ErrInvalidNICSlot     = errors.New("hypervisor: NIC slot must be 0 or 1")
)

// Runtime errors
var (
	ErrAlreadyExists   = errors.New("hypervisor: VM already exists")
	ErrSegmentNotFound = errors.New("hypervisor: network segment not found")
	ErrLocked          = errors.New("hypervisor: VM is locked by another session")
	ErrEditorClosed    = errors.New("hypervisor: editor already committed or discarded")
	ErrSessionClosed   = errors.New("hypervisor: session is closed")
)

// Platform errors
var (
	ErrUnsupportedPlatform = errors.New("hypervisor: VBoxManage not available on this host")
)
