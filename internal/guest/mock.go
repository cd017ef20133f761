package guest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// mockGuest is an internal record held by MockManager.
type mockGuest struct {
	guest Guest
	lease []string // addresses returned by successive lease queries; last repeats
	calls int
}

// MockManager implements Manager using in-memory state. It enforces the same
// semantic contracts that the libvirt implementation does:
//   - ErrNotFound for unknown guest names
//   - state-transition guards (e.g. cannot start a running guest)
//   - context cancellation checks
//
// Lease queries follow a per-guest schedule set with SetLeaseSchedule, which
// lets tests model a DHCP lease appearing after n polls.
type MockManager struct {
	mu     sync.Mutex
	guests map[string]*mockGuest
}

// NewMockManager creates a MockManager pre-loaded with the supplied guests.
func NewMockManager(initial []Guest) *MockManager {
	m := &MockManager{guests: make(map[string]*mockGuest)}
	for _, g := range initial {
		m.guests[g.Name] = &mockGuest{guest: g}
	}
	return m
}

// SetLeaseSchedule installs the sequence of addresses returned by successive
// LeasedIPv4 calls for the named guest. The final element repeats once the
// schedule is exhausted; an empty schedule means "never leases".
func (m *MockManager) SetLeaseSchedule(name string, addrs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guests[name]; ok {
		g.lease = addrs
		g.calls = 0
	}
}

// LeaseQueries reports how many times LeasedIPv4 has been called for name.
func (m *MockManager) LeaseQueries(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guests[name]; ok {
		return g.calls
	}
	return 0
}

func (m *MockManager) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("guest exists: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.guests[name]
	return ok, nil
}

func (m *MockManager) Define(ctx context.Context, domainXML string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("define guest: %w", err)
	}
	if domainXML == "" {
		return fmt.Errorf("define guest: xml is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	name := nameFromXML(domainXML)
	if name == "" {
		return fmt.Errorf("define guest: xml has no name")
	}
	if _, ok := m.guests[name]; ok {
		return fmt.Errorf("guest %q already defined", name)
	}
	m.guests[name] = &mockGuest{guest: Guest{Name: name, State: StateShutoff}}
	return nil
}

func (m *MockManager) Start(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start guest: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.guests[name]
	if !ok {
		return fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}
	if g.guest.State == StateRunning {
		return fmt.Errorf("guest %q already running", name)
	}
	g.guest.State = StateRunning
	return nil
}

func (m *MockManager) Stop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stop guest: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.guests[name]
	if !ok {
		return fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}
	g.guest.State = StateShutoff
	return nil
}

func (m *MockManager) ForceStop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("force stop guest: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.guests[name]
	if !ok {
		return fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}
	g.guest.State = StateShutoff
	return nil
}

func (m *MockManager) Undefine(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("undefine guest: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.guests[name]; !ok {
		return fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}
	delete(m.guests, name)
	return nil
}

func (m *MockManager) List(ctx context.Context) ([]Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list guests: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Guest, 0, len(m.guests))
	for _, g := range m.guests {
		out = append(out, g.guest)
	}
	return out, nil
}

func (m *MockManager) LeasedIPv4(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("lease query: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.guests[name]
	if !ok {
		return "", fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}

	idx := g.calls
	g.calls++
	if len(g.lease) == 0 {
		return "", nil
	}
	if idx >= len(g.lease) {
		idx = len(g.lease) - 1
	}
	return g.lease[idx], nil
}

// nameFromXML pulls the <name> element out of a domain definition. Good
// enough for the XML this tool renders; not a general parser.
func nameFromXML(domainXML string) string {
	i := strings.Index(domainXML, "<name>")
	if i < 0 {
		return ""
	}
	rest := domainXML[i+len("<name>"):]
	j := strings.Index(rest, "</name>")
	if j < 0 {
		return ""
	}
	return rest[:j]
}
