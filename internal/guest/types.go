// Package guest provides management of local libvirt guests.
package guest

import (
	"context"
	"errors"
)

// State represents the current state of a guest.
type State string

const (
	StateRunning   State = "running"
	StateShutoff   State = "shutoff"
	StatePaused    State = "paused"
	StateCrashed   State = "crashed"
	StateSuspended State = "suspended"
)

// ErrNotFound is returned by operations on a guest that is not known to the
// hypervisor.
var ErrNotFound = errors.New("guest not found")

// Guest holds the summary information for a guest.
type Guest struct {
	Name  string
	UUID  string
	State State
}

// Manager defines the hypervisor operations the provisioning workflow needs.
type Manager interface {
	// Exists reports whether a guest with the given name is defined.
	Exists(ctx context.Context, name string) (bool, error)

	// Define registers a new persistent guest from the supplied domain XML.
	Define(ctx context.Context, domainXML string) error

	// Start boots a defined guest.
	Start(ctx context.Context, name string) error

	// Stop requests a graceful ACPI shutdown.
	Stop(ctx context.Context, name string) error

	// ForceStop destroys the guest immediately.
	ForceStop(ctx context.Context, name string) error

	// Undefine removes the persistent definition of the guest.
	Undefine(ctx context.Context, name string) error

	// List returns a summary of every guest known to the hypervisor.
	List(ctx context.Context) ([]Guest, error)

	// LeasedIPv4 returns the first lease-sourced IPv4 address recorded for
	// the guest, or "" (with a nil error) when no lease exists yet.
	LeasedIPv4(ctx context.Context, name string) (string, error)
}
