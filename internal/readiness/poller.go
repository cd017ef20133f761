// Package readiness waits for a freshly started guest to become reachable:
// first for its DHCP lease, then for its SSH service, and finally records the
// guest's host keys in the trust store under the friendly hostname.
//
// Every timeout here is soft. The poller reports a degraded outcome and
// returns control to the caller; it never aborts the provisioning run. A
// guest that was provisioned but never trusted simply greets the operator
// with an interactive host-key prompt on first connect.
package readiness

import (
	"context"
	"log"
	"time"

	"github.com/jamesprial/labvm/internal/trust"
)

const (
	// DefaultMaxAttempts and DefaultInterval give each phase a one minute
	// budget, matching how long a local guest plausibly takes to boot.
	DefaultMaxAttempts = 30
	DefaultInterval    = 2 * time.Second

	// probeTimeout bounds the quick "is sshd up yet" scans in phase 2;
	// retrieveTimeout bounds the full key retrieval in phase 3.
	probeTimeout    = 3 * time.Second
	retrieveTimeout = 5 * time.Second
)

// LeaseSource answers lease queries for a guest. guest.Manager satisfies it.
type LeaseSource interface {
	LeasedIPv4(ctx context.Context, name string) (string, error)
}

// Poller discovers a guest's address and establishes host-key trust.
type Poller struct {
	Leases  LeaseSource
	Scanner Scanner
	Store   *trust.Store

	// MaxAttempts and Interval bound each polling phase independently.
	MaxAttempts int
	Interval    time.Duration
}

// New returns a Poller with the default retry budget.
func New(leases LeaseSource, scanner Scanner, store *trust.Store) *Poller {
	return &Poller{
		Leases:      leases,
		Scanner:     scanner,
		Store:       store,
		MaxAttempts: DefaultMaxAttempts,
		Interval:    DefaultInterval,
	}
}

// Report describes how far readiness got. All fields are best-effort
// observations; none of them is an error.
type Report struct {
	Addr          string
	LeaseAcquired bool
	SSHReachable  bool
	KeysAdded     int
	Trusted       bool
}

// Run waits for guestName to lease an address and answer SSH, then replaces
// the trust-store entries for hostname with the keys the guest offers.
// Phase ordering is strict: SSH is never probed before an address is known,
// and the store is never touched before SSH has answered.
func (p *Poller) Run(ctx context.Context, guestName, hostname string) Report {
	var rep Report
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	// Phase 1: wait for a DHCP lease.
	for i := 0; i < attempts; i++ {
		addr, err := p.Leases.LeasedIPv4(ctx, guestName)
		if err == nil && addr != "" {
			rep.Addr = addr
			rep.LeaseAcquired = true
			break
		}
		if !p.pause(ctx, i, attempts) {
			break
		}
	}
	if !rep.LeaseAcquired {
		log.Printf("warning: guest %q acquired no DHCP lease after %d attempts; the first SSH connection will prompt to trust its host key", guestName, attempts)
		return rep
	}

	// Phase 2: wait for the SSH service to answer.
	for i := 0; i < attempts; i++ {
		keys, err := p.Scanner.Scan(ctx, rep.Addr, probeTimeout)
		if err == nil && len(keys) > 0 {
			rep.SSHReachable = true
			break
		}
		if !p.pause(ctx, i, attempts) {
			break
		}
	}
	if !rep.SSHReachable {
		log.Printf("warning: no SSH service on %s after %d attempts; the first SSH connection will prompt to trust the host key", rep.Addr, attempts)
		return rep
	}

	// Phase 3: retrieve the keys and replace the trust entries for the
	// friendly hostname, so later connects use the name, not the address.
	keys, err := p.Scanner.Scan(ctx, rep.Addr, retrieveTimeout)
	if err != nil || len(keys) == 0 {
		log.Printf("warning: key scan of %s returned no keys; host-key trust not established for %q", rep.Addr, hostname)
		return rep
	}

	n, err := p.Store.Replace(hostname, keys)
	if err != nil {
		log.Printf("warning: could not update trust store %q: %v", p.Store.Path(), err)
		return rep
	}
	rep.KeysAdded = n
	rep.Trusted = true
	log.Printf("recorded %d host key(s) for %s in %s", n, hostname, p.Store.Path())
	return rep
}

// pause sleeps one interval between attempts. It returns false when the
// budget is spent or the context is done, without sleeping after the final
// attempt.
func (p *Poller) pause(ctx context.Context, attempt, attempts int) bool {
	if attempt == attempts-1 {
		return false
	}
	if p.Interval <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.Interval):
		return true
	}
}
