package guest

import (
	"bytes"
	"fmt"
	"text/template"
)

// DomainParams describes the guest shape rendered into domain XML.
type DomainParams struct {
	Name      string
	MemoryMiB int
	VCPUs     int
	DiskPath  string
	Network   string
}

// domainTemplate is a minimal KVM guest: one virtio disk, one virtio NIC on
// a libvirt-managed network (so the DHCP lease source tracks its address),
// serial console only.
var domainTemplate = template.Must(template.New("domain").Parse(`<domain type="kvm">
  <name>{{.Name}}</name>
  <memory unit="MiB">{{.MemoryMiB}}</memory>
  <vcpu>{{.VCPUs}}</vcpu>
  <os>
    <type arch="x86_64">hvm</type>
  </os>
  <features>
    <acpi/>
    <apic/>
  </features>
  <devices>
    <disk type="file" device="disk">
      <driver name="qemu" type="qcow2"/>
      <source file="{{.DiskPath}}"/>
      <target dev="vda" bus="virtio"/>
    </disk>
    <interface type="network">
      <source network="{{.Network}}"/>
      <model type="virtio"/>
    </interface>
    <serial type="pty">
      <target port="0"/>
    </serial>
    <console type="pty">
      <target type="serial" port="0"/>
    </console>
    <rng model="virtio">
      <backend model="random">/dev/urandom</backend>
    </rng>
  </devices>
</domain>
`))

// DomainXML renders the libvirt domain definition for the given parameters.
func DomainXML(p DomainParams) (string, error) {
	if p.Name == "" {
		return "", fmt.Errorf("domain xml: name must not be empty")
	}
	if p.DiskPath == "" {
		return "", fmt.Errorf("domain xml: disk path must not be empty")
	}
	if p.MemoryMiB <= 0 {
		p.MemoryMiB = 2048
	}
	if p.VCPUs <= 0 {
		p.VCPUs = 2
	}
	if p.Network == "" {
		p.Network = "default"
	}

	var buf bytes.Buffer
	if err := domainTemplate.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("domain xml: %w", err)
	}
	return buf.String(), nil
}
