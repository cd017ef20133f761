// Package provision runs the end-to-end workflow that turns a versioned base
// image into a running, registered, reachable guest. The sequence is linear:
// validate, prepare the disk, customize the image, define and start the
// guest, then wait for readiness. Each step either succeeds or aborts the
// run with a wrapped error; only the readiness phase degrades instead of
// failing.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jamesprial/labvm/internal/config"
	"github.com/jamesprial/labvm/internal/guest"
	"github.com/jamesprial/labvm/internal/image"
	"github.com/jamesprial/labvm/internal/readiness"
	"github.com/jamesprial/labvm/internal/safety"
)

var (
	// ErrInvalidVersion is returned for version identifiers not of the form N.N.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrInvalidName is returned for malformed guest names.
	ErrInvalidName = errors.New("invalid guest name")
	// ErrNameNotAllowed is returned when the safety filter rejects the name.
	ErrNameNotAllowed = errors.New("guest name not allowed by safety filter")
	// ErrGuestExists is returned when a guest with the same name is already defined.
	ErrGuestExists = errors.New("guest already exists")
	// ErrMissingCredentials is returned when subscription credentials are not configured.
	ErrMissingCredentials = errors.New("subscription org_id and activation_key must be configured")
	// ErrMissingPublicKey is returned when the configured SSH public key is absent or empty.
	ErrMissingPublicKey = errors.New("ssh public key missing")
)

var (
	versionRE = regexp.MustCompile(`^[0-9]+\.[0-9]+$`)
	nameRE    = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-_]{0,63}$`)
)

// DiskBuilder is the slice of image.Builder the workflow uses.
type DiskBuilder interface {
	CheckBase(version string) (string, error)
	CreateDisk(ctx context.Context, version, name string) (string, error)
	Customize(ctx context.Context, disk, script, hostname string) error
	RemoveDisk(name string) error
}

// Waiter runs the post-start readiness phases.
type Waiter interface {
	Run(ctx context.Context, guestName, hostname string) readiness.Report
}

// TrustRemover purges trust-store entries for a hostname on destroy.
type TrustRemover interface {
	Remove(hostname string) (int, error)
}

// Provisioner wires the collaborators of the provisioning workflow.
type Provisioner struct {
	Cfg    *config.Config
	Guests guest.Manager
	Disks  DiskBuilder
	Poller Waiter
	Trust  TrustRemover
	Filter *safety.Filter
	Audit  *safety.AuditLogger
}

// GuestStatus is one row of List output.
type GuestStatus struct {
	Name  string
	State guest.State
	Addr  string
}

// Hostname returns the friendly mDNS hostname for a guest name.
func Hostname(name string) string {
	return name + ".local"
}

// Create provisions a new guest from the given base-image version. The
// returned report describes how far readiness got; it is meaningful even
// when trust was not established, which is a degraded outcome rather than
// an error.
func (p *Provisioner) Create(ctx context.Context, version, name string) (readiness.Report, error) {
	var rep readiness.Report

	if !versionRE.MatchString(version) {
		return rep, fmt.Errorf("%w: %q (want N.N)", ErrInvalidVersion, version)
	}
	if !nameRE.MatchString(name) {
		return rep, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if p.Filter != nil && !p.Filter.IsAllowed(name) {
		return rep, fmt.Errorf("%w: %q", ErrNameNotAllowed, name)
	}
	if p.Cfg.Subscription.OrgID == "" || p.Cfg.Subscription.ActivationKey == "" {
		return rep, ErrMissingCredentials
	}

	exists, err := p.Guests.Exists(ctx, name)
	if err != nil {
		return rep, fmt.Errorf("checking for existing guest: %w", err)
	}
	if exists {
		return rep, fmt.Errorf("%w: %q", ErrGuestExists, name)
	}

	if _, err := p.Disks.CheckBase(version); err != nil {
		return rep, err
	}

	publicKey, err := p.readPublicKey()
	if err != nil {
		return rep, err
	}

	params := map[string]any{"name": name, "version": version}

	start := time.Now()
	disk, err := p.Disks.CreateDisk(ctx, version, name)
	p.logStep("create_disk", params, err, start)
	if err != nil {
		return rep, err
	}

	// From here on a failed step must remove the clone, or a retried create
	// would abort on the leftover disk.
	removeDisk := func() {
		if rmErr := p.Disks.RemoveDisk(name); rmErr != nil {
			log.Printf("warning: could not remove disk for %q: %v", name, rmErr)
		}
	}

	script, err := image.RenderFirstBoot(image.ScriptParams{
		Hostname:      name,
		OrgID:         p.Cfg.Subscription.OrgID,
		ActivationKey: p.Cfg.Subscription.ActivationKey,
		Username:      p.Cfg.User.Name,
		Password:      p.Cfg.User.Password,
		PublicKey:     publicKey,
	})
	if err != nil {
		removeDisk()
		return rep, err
	}

	start = time.Now()
	err = p.Disks.Customize(ctx, disk, script, name)
	p.logStep("customize", params, err, start)
	if err != nil {
		removeDisk()
		return rep, err
	}

	domainXML, err := guest.DomainXML(guest.DomainParams{
		Name:      name,
		MemoryMiB: p.Cfg.Guest.MemoryMiB,
		VCPUs:     p.Cfg.Guest.VCPUs,
		DiskPath:  disk,
		Network:   p.Cfg.Guest.Network,
	})
	if err != nil {
		removeDisk()
		return rep, err
	}

	start = time.Now()
	err = p.Guests.Define(ctx, domainXML)
	p.logStep("define", params, err, start)
	if err != nil {
		removeDisk()
		return rep, err
	}

	start = time.Now()
	err = p.Guests.Start(ctx, name)
	p.logStep("start", params, err, start)
	if err != nil {
		if udErr := p.Guests.Undefine(ctx, name); udErr != nil {
			log.Printf("warning: could not undefine guest %q: %v", name, udErr)
		}
		removeDisk()
		return rep, err
	}

	start = time.Now()
	rep = p.Poller.Run(ctx, name, Hostname(name))
	p.logStep("readiness", params, nil, start)

	if rep.Trusted {
		log.Printf("guest %q provisioned; ssh %s@%s", name, p.Cfg.User.Name, Hostname(name))
	} else {
		log.Printf("guest %q provisioned without host-key trust; connect to it manually once to accept its key", name)
	}
	return rep, nil
}

// Destroy stops and undefines the guest, removes its disk, and purges its
// trust-store entries.
func (p *Provisioner) Destroy(ctx context.Context, name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if p.Filter != nil && !p.Filter.IsAllowed(name) {
		return fmt.Errorf("%w: %q", ErrNameNotAllowed, name)
	}

	exists, err := p.Guests.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking for guest: %w", err)
	}
	if !exists {
		return fmt.Errorf("guest %q: %w", name, guest.ErrNotFound)
	}

	params := map[string]any{"name": name}

	// A shutoff guest fails ForceStop; that is fine, undefine is the part
	// that matters.
	start := time.Now()
	stopErr := p.Guests.ForceStop(ctx, name)
	if stopErr != nil {
		log.Printf("force stop of guest %q failed (%v); continuing", name, stopErr)
	}
	p.logStep("force_stop", params, stopErr, start)

	start = time.Now()
	err = p.Guests.Undefine(ctx, name)
	p.logStep("undefine", params, err, start)
	if err != nil {
		return err
	}

	if err := p.Disks.RemoveDisk(name); err != nil {
		return err
	}

	if p.Trust != nil {
		if _, err := p.Trust.Remove(Hostname(name)); err != nil {
			log.Printf("warning: could not purge trust entries for %s: %v", Hostname(name), err)
		}
	}
	return nil
}

// List returns every guest known to the hypervisor, with the lease-sourced
// address for the running ones, sorted by name.
func (p *Provisioner) List(ctx context.Context) ([]GuestStatus, error) {
	guests, err := p.Guests.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]GuestStatus, 0, len(guests))
	for _, g := range guests {
		st := GuestStatus{Name: g.Name, State: g.State}
		if g.State == guest.StateRunning {
			if addr, err := p.Guests.LeasedIPv4(ctx, g.Name); err == nil {
				st.Addr = addr
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// readPublicKey loads and validates the configured SSH public key.
func (p *Provisioner) readPublicKey() (string, error) {
	path := p.Cfg.User.PublicKeyPath
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMissingPublicKey, path, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%w: %q is empty", ErrMissingPublicKey, path)
	}
	return key, nil
}

// logStep records one provisioning step in the audit log, when enabled.
func (p *Provisioner) logStep(step string, params map[string]any, err error, start time.Time) {
	if p.Audit == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error: " + err.Error()
	}
	_ = p.Audit.Log(safety.AuditEntry{
		Timestamp: start,
		Step:      step,
		Params:    params,
		Result:    result,
		Duration:  time.Since(start),
	})
}
