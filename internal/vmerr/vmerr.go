// Package vmerr defines the error kinds shared by the fleet components.
//
// Validation, conflict and precondition errors are always raised before any
// mutation of a VM. Timeout and collaborator errors may follow a partial
// operation; the message names the step that failed.
package vmerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound reports that a named VM, segment or image does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReservedAddress reports an address ending in the gateway octet.
	ErrReservedAddress = errors.New("IP ending in .1 is reserved for the network gateway")

	// ErrAddressSpaceExhausted reports that every host address of a /24 is taken.
	ErrAddressSpaceExhausted = errors.New("no free address left in network")
)

// ValidationError reports malformed input such as a bad IP or a missing field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, msg)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError reports an address already held by another VM.
type ConflictError struct {
	IP     string
	Holder string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("IP %s is already taken by %s", e.IP, e.Holder)
}

// PreconditionError reports a VM in the wrong power state for an operation.
type PreconditionError struct {
	VM    string
	State string
	Want  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s (state %s)", e.VM, e.Want, e.State)
}

// TimeoutError reports a bounded wait that expired.
type TimeoutError struct {
	Op    string
	VM    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out after %s", e.Op, e.VM, e.After)
}

// CollaboratorError wraps a failed call into the hypervisor or transport.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Collaborator wraps err as a CollaboratorError unless it already carries one
// of the package's kinds. A nil err yields nil.
func Collaborator(op string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "" {
		return err
	}
	return &CollaboratorError{Op: op, Err: err}
}

// Kind names the error kind carried by err, or "" when err is not one of ours.
func Kind(err error) string {
	var (
		ve *ValidationError
		ce *ConflictError
		pe *PreconditionError
		te *TimeoutError
		xe *CollaboratorError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ce):
		return "conflict"
	case errors.As(err, &pe):
		return "precondition"
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &xe):
		return "collaborator"
	}
	return ""
}
