package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesprial/labvm/internal/provision"
)

func newCreateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create <version> <name>",
		Short: "Provision a guest from the versioned base image",
		Long: `Create clones a copy-on-write disk from the rhel-<version> base image,
injects a first-boot script (hostname, subscription registration, user
account, mDNS responder, SSH key, passwordless sudo), defines and starts
the guest, then waits for its DHCP lease and SSH service and records its
host keys under <name>.local in the known-hosts store.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, name := args[0], args[1]

			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.prov.Create(cmd.Context(), version, name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case rep.Trusted:
				fmt.Fprintf(out, "guest %s is ready at %s (%s), %d host key(s) trusted\n",
					name, provision.Hostname(name), rep.Addr, rep.KeysAdded)
			case rep.SSHReachable:
				fmt.Fprintf(out, "guest %s is up at %s but its host keys were not recorded; expect a trust prompt on first connect\n",
					name, rep.Addr)
			case rep.LeaseAcquired:
				fmt.Fprintf(out, "guest %s leased %s but SSH never answered; check its console\n",
					name, rep.Addr)
			default:
				fmt.Fprintf(out, "guest %s started but acquired no address in time; check its console\n", name)
			}
			return nil
		},
	}
}
