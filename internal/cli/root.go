// Package cli wires the labvm commands.
package cli

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesprial/labvm/internal/config"
	"github.com/jamesprial/labvm/internal/guest"
	"github.com/jamesprial/labvm/internal/image"
	"github.com/jamesprial/labvm/internal/provision"
	"github.com/jamesprial/labvm/internal/readiness"
	"github.com/jamesprial/labvm/internal/safety"
	"github.com/jamesprial/labvm/internal/trust"
)

// New returns the labvm root command.
func New() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "labvm",
		Short:        "Provision local libvirt guests for manual testing",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the config file (default ~/.config/labvm/config.yaml)")

	root.AddCommand(
		newCreateCmd(&configPath),
		newDestroyCmd(&configPath),
		newListCmd(&configPath),
	)
	return root
}

// loadConfig resolves the config path (flag, then LABVM_CONFIG_PATH, then
// the default location) and loads it, falling back to defaults when the
// file cannot be read.
func loadConfig(path string) *config.Config {
	if path == "" {
		path = os.Getenv("LABVM_CONFIG_PATH")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".config", "labvm", "config.yaml")
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Printf("could not load config from %q (%v), using defaults", path, err)
		cfg = config.DefaultConfig()
	}
	config.ApplyEnvOverrides(cfg)
	return cfg
}

// app holds the wired collaborators for one command invocation.
type app struct {
	cfg  *config.Config
	prov *provision.Provisioner

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp loads configuration, connects to the hypervisor, and assembles
// the provisioning workflow.
func buildApp(configPath string) (*app, error) {
	cfg := loadConfig(configPath)

	mgr, err := guest.NewLibvirtManager(cfg.Paths.LibvirtSocket)
	if err != nil {
		return nil, fmt.Errorf("connect to libvirt: %w", err)
	}

	a := &app{cfg: cfg}
	a.closers = append(a.closers, func() { _ = mgr.Close() })

	var audit *safety.AuditLogger
	if cfg.Audit.Enabled {
		f, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			log.Printf("warning: could not open audit log %q: %v; audit logging disabled", cfg.Audit.LogPath, err)
		} else {
			audit = safety.NewAuditLogger(f)
			a.closers = append(a.closers, func() { _ = f.Close() })
		}
	}

	store := trust.NewStore(cfg.Paths.KnownHosts)
	a.prov = &provision.Provisioner{
		Cfg:    cfg,
		Guests: mgr,
		Disks:  image.NewBuilder(cfg.Paths.ImageDir),
		Poller: readiness.New(mgr, &readiness.HostKeyScanner{}, store),
		Trust:  store,
		Filter: safety.NewFilter(cfg.Safety.Allowlist, cfg.Safety.Denylist),
		Audit:  audit,
	}
	return a, nil
}
