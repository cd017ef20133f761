package guest

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/digitalocean/go-libvirt"
)

// LibvirtManager implements Manager using the go-libvirt pure-Go client. It
// talks to the daemon over its Unix domain socket, so no virsh binary is
// required at runtime.
type LibvirtManager struct {
	l          *libvirt.Libvirt
	socketPath string
}

// NewLibvirtManager dials the libvirt Unix socket at socketPath, performs
// the libvirt connect handshake, and returns a ready-to-use LibvirtManager.
func NewLibvirtManager(socketPath string) (*LibvirtManager, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("libvirt socket path must not be empty")
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial libvirt socket %q: %w", socketPath, err)
	}

	l := libvirt.New(conn)
	if err := l.Connect(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("libvirt connect: %w", err)
	}

	return &LibvirtManager{
		l:          l,
		socketPath: socketPath,
	}, nil
}

// Close disconnects from the libvirt daemon and releases the underlying
// network connection.
func (m *LibvirtManager) Close() error {
	if err := m.l.Disconnect(); err != nil {
		return fmt.Errorf("libvirt disconnect: %w", err)
	}
	return nil
}

// Exists reports whether a guest with the given name is defined. Only the
// daemon's "no such domain" answer counts as absence; transport or internal
// failures are surfaced so a collision check cannot silently pass.
func (m *LibvirtManager) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("guest exists: %w", err)
	}

	if _, err := m.l.DomainLookupByName(name); err != nil {
		if isNoDomain(err) {
			return false, nil
		}
		return false, fmt.Errorf("lookup guest %q: %w", name, err)
	}
	return true, nil
}

// isNoDomain reports whether err is libvirt's VIR_ERR_NO_DOMAIN, the answer
// for a name that is simply not defined.
func isNoDomain(err error) bool {
	var lverr libvirt.Error
	if errors.As(err, &lverr) {
		return lverr.Code == uint32(libvirt.ErrNoDomain)
	}
	return false
}

// Define registers a new persistent guest from the supplied domain XML.
func (m *LibvirtManager) Define(ctx context.Context, domainXML string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("define guest: %w", err)
	}

	if _, err := m.l.DomainDefineXML(domainXML); err != nil {
		return fmt.Errorf("define guest: %w", err)
	}
	return nil
}

// Start boots a defined guest. It returns an error containing "already
// running" if the guest is already in the running state.
func (m *LibvirtManager) Start(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start guest: %w", err)
	}

	dom, err := m.l.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}

	state, err := m.domainState(dom)
	if err != nil {
		return fmt.Errorf("start guest %q: get state: %w", name, err)
	}
	if state == StateRunning {
		return fmt.Errorf("guest %q already running", name)
	}

	if err := m.l.DomainCreate(dom); err != nil {
		return fmt.Errorf("start guest %q: %w", name, err)
	}
	return nil
}

// Stop requests a graceful shutdown of a running guest via ACPI.
func (m *LibvirtManager) Stop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stop guest: %w", err)
	}

	dom, err := m.l.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}

	if err := m.l.DomainShutdown(dom); err != nil {
		return fmt.Errorf("stop guest %q: %w", name, err)
	}
	return nil
}

// ForceStop destroys a guest immediately, equivalent to pulling the power
// cord.
func (m *LibvirtManager) ForceStop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("force stop guest: %w", err)
	}

	dom, err := m.l.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}

	if err := m.l.DomainDestroy(dom); err != nil {
		return fmt.Errorf("force stop guest %q: %w", name, err)
	}
	return nil
}

// Undefine removes the persistent definition of the guest.
func (m *LibvirtManager) Undefine(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("undefine guest: %w", err)
	}

	dom, err := m.l.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}

	if err := m.l.DomainUndefine(dom); err != nil {
		return fmt.Errorf("undefine guest %q: %w", name, err)
	}
	return nil
}

// List returns a summary for every guest known to libvirt (active and
// inactive).
func (m *LibvirtManager) List(ctx context.Context) ([]Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list guests: %w", err)
	}

	// Request all domains (active + inactive).
	domains, _, err := m.l.ConnectListAllDomains(1, libvirt.ConnectListDomainsActive|libvirt.ConnectListDomainsInactive)
	if err != nil {
		return nil, fmt.Errorf("list guests: %w", err)
	}

	out := make([]Guest, 0, len(domains))
	for _, d := range domains {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("list guests: %w", ctx.Err())
		}
		state, err := m.domainState(d)
		if err != nil {
			// Skip domains we cannot inspect rather than aborting the whole list.
			continue
		}
		out = append(out, Guest{
			Name:  d.Name,
			UUID:  formatUUID(d.UUID),
			State: state,
		})
	}
	return out, nil
}

// LeasedIPv4 queries the guest's interface addresses from the DHCP lease
// source and returns the first IPv4 address. A guest that has not leased an
// address yet yields "" with a nil error; the caller decides how long to
// keep polling.
func (m *LibvirtManager) LeasedIPv4(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("lease query: %w", err)
	}

	dom, err := m.l.DomainLookupByName(name)
	if err != nil {
		return "", fmt.Errorf("guest %q: %w", name, ErrNotFound)
	}

	ifaces, err := m.l.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcLease), 0)
	if err != nil {
		// A guest that has only just started may not have lease records
		// yet; report "no address" rather than a hard failure.
		return "", nil
	}

	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			if addr.Type == int32(libvirt.IPAddrTypeIpv4) && addr.Addr != "" {
				return addr.Addr, nil
			}
		}
	}
	return "", nil
}

// domainState retrieves the current State for a domain.
func (m *LibvirtManager) domainState(dom libvirt.Domain) (State, error) {
	state, _, err := m.l.DomainGetState(dom, 0)
	if err != nil {
		return "", fmt.Errorf("get domain state: %w", err)
	}
	return libvirtStateToState(libvirt.DomainState(state)), nil
}

// libvirtStateToState maps a libvirt DomainState integer to our State type.
func libvirtStateToState(s libvirt.DomainState) State {
	switch s {
	case libvirt.DomainRunning:
		return StateRunning
	case libvirt.DomainShutoff:
		return StateShutoff
	case libvirt.DomainPaused:
		return StatePaused
	case libvirt.DomainCrashed:
		return StateCrashed
	case libvirt.DomainPmsuspended:
		return StateSuspended
	default:
		return StateShutoff
	}
}

// formatUUID converts the 16-byte UUID array from go-libvirt into the
// standard hyphenated 8-4-4-4-12 hex string representation.
func formatUUID(uuid [16]byte) string {
	return fmt.Sprintf(
		"%08x-%04x-%04x-%04x-%012x",
		uuid[0:4],
		uuid[4:6],
		uuid[6:8],
		uuid[8:10],
		uuid[10:16],
	)
}
