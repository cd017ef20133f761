package image

import (
	"bytes"
	"fmt"
	"path"
	"text/template"

	"github.com/kballard/go-shellquote"
)

// ScriptParams carries the values substituted into the first-boot script.
// All of them are treated as untrusted: each one is shell-quoted before it
// reaches the template, so quotes, whitespace, and metacharacters in any
// value cannot corrupt the generated script.
type ScriptParams struct {
	Hostname      string
	OrgID         string
	ActivationKey string
	Username      string
	Password      string // optional; empty locks password login
	PublicKey     string // authorized_keys line for the created user
}

// quoted fields are pre-escaped shell words; the template only ever inserts
// these, never the raw values.
type scriptData struct {
	Hostname       string
	OrgID          string
	ActivationKey  string
	Username       string
	ChpasswdSpec   string
	PublicKey      string
	SSHDir         string
	AuthorizedKeys string
	Owner          string
	SudoersFile    string
	SudoersLine    string
	HasPassword    bool
}

var firstBootTemplate = template.Must(template.New("firstboot").Parse(`#!/bin/sh
# Generated by labvm; runs once on first boot.
set -eu

hostnamectl set-hostname {{.Hostname}}

subscription-manager register --org {{.OrgID}} --activationkey {{.ActivationKey}}

useradd -m -s /bin/bash {{.Username}}
{{- if .HasPassword}}
printf '%s\n' {{.ChpasswdSpec}} | chpasswd
{{- else}}
passwd -l {{.Username}}
{{- end}}

install -d -m 0700 -o {{.Username}} -g {{.Username}} {{.SSHDir}}
printf '%s\n' {{.PublicKey}} > {{.AuthorizedKeys}}
chown {{.Owner}} {{.AuthorizedKeys}}
chmod 0600 {{.AuthorizedKeys}}

printf '%s\n' {{.SudoersLine}} > {{.SudoersFile}}
chmod 0440 {{.SudoersFile}}

dnf -y install avahi
systemctl enable --now avahi-daemon
`))

// RenderFirstBoot produces the first-boot customization script for a guest.
func RenderFirstBoot(p ScriptParams) (string, error) {
	switch {
	case p.Hostname == "":
		return "", fmt.Errorf("render script: hostname must not be empty")
	case p.OrgID == "":
		return "", fmt.Errorf("render script: org id must not be empty")
	case p.ActivationKey == "":
		return "", fmt.Errorf("render script: activation key must not be empty")
	case p.Username == "":
		return "", fmt.Errorf("render script: username must not be empty")
	case p.PublicKey == "":
		return "", fmt.Errorf("render script: public key must not be empty")
	}

	home := path.Join("/home", p.Username)
	d := scriptData{
		Hostname:       q(p.Hostname),
		OrgID:          q(p.OrgID),
		ActivationKey:  q(p.ActivationKey),
		Username:       q(p.Username),
		ChpasswdSpec:   q(p.Username + ":" + p.Password),
		PublicKey:      q(p.PublicKey),
		SSHDir:         q(path.Join(home, ".ssh")),
		AuthorizedKeys: q(path.Join(home, ".ssh", "authorized_keys")),
		Owner:          q(p.Username + ":" + p.Username),
		SudoersFile:    q(path.Join("/etc/sudoers.d", p.Username)),
		SudoersLine:    q(fmt.Sprintf("%s ALL=(ALL) NOPASSWD: ALL", p.Username)),
		HasPassword:    p.Password != "",
	}

	var buf bytes.Buffer
	if err := firstBootTemplate.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render script: %w", err)
	}
	return buf.String(), nil
}

// q shell-quotes a single value into one word.
func q(s string) string {
	return shellquote.Join(s)
}
