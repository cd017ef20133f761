// Package image prepares guest disks: it locates versioned base images,
// clones copy-on-write disks from them with qemu-img, and injects the
// first-boot customization script with virt-customize.
package image

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrBaseImageMissing is returned when the base image for a requested
// version does not exist in the image directory.
var ErrBaseImageMissing = errors.New("base image not found")

// Builder performs disk preparation for a guest.
type Builder struct {
	imageDir string
	run      runner
}

// NewBuilder returns a Builder that keeps base images and guest disks under
// imageDir.
func NewBuilder(imageDir string) *Builder {
	return &Builder{imageDir: imageDir, run: execRunner{}}
}

// BasePath returns the expected location of the base image for a version.
func (b *Builder) BasePath(version string) string {
	return filepath.Join(b.imageDir, fmt.Sprintf("rhel-%s.qcow2", version))
}

// DiskPath returns the location of the disk backing a named guest.
func (b *Builder) DiskPath(name string) string {
	return filepath.Join(b.imageDir, name+".qcow2")
}

// CheckBase verifies the base image for version exists and returns its path.
func (b *Builder) CheckBase(version string) (string, error) {
	base := b.BasePath(version)
	if _, err := os.Stat(base); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrBaseImageMissing, base)
		}
		return "", fmt.Errorf("stat base image %q: %w", base, err)
	}
	return base, nil
}

// CreateDisk clones a copy-on-write disk for the named guest from the base
// image of the given version. The guest's writes land in the clone; the
// base image is never modified.
func (b *Builder) CreateDisk(ctx context.Context, version, name string) (string, error) {
	base, err := b.CheckBase(version)
	if err != nil {
		return "", err
	}
	disk := b.DiskPath(name)
	if _, err := os.Stat(disk); err == nil {
		return "", fmt.Errorf("disk %q already exists", disk)
	}

	out, err := b.run.run(ctx, "qemu-img", "create",
		"-f", "qcow2",
		"-b", base,
		"-F", "qcow2",
		disk)
	if err != nil {
		return "", fmt.Errorf("qemu-img create: %w\noutput: %s", err, out)
	}

	// Disk contents may include subscription credentials after first boot.
	if err := os.Chmod(disk, 0o600); err != nil {
		return "", fmt.Errorf("chmod disk %q: %w", disk, err)
	}
	return disk, nil
}

// Customize injects the first-boot script into the disk and stamps the
// hostname. The script is staged in a private temp file for the duration of
// the virt-customize run.
func (b *Builder) Customize(ctx context.Context, disk, script, hostname string) error {
	f, err := os.CreateTemp("", "labvm-firstboot-*.sh")
	if err != nil {
		return fmt.Errorf("stage firstboot script: %w", err)
	}
	defer os.Remove(f.Name())

	if err := f.Chmod(0o700); err != nil {
		f.Close()
		return fmt.Errorf("chmod firstboot script: %w", err)
	}
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return fmt.Errorf("write firstboot script: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close firstboot script: %w", err)
	}

	out, err := b.run.run(ctx, "virt-customize",
		"-a", disk,
		"--hostname", hostname,
		"--firstboot", f.Name())
	if err != nil {
		return fmt.Errorf("virt-customize: %w\noutput: %s", err, out)
	}
	return nil
}

// RemoveDisk deletes the named guest's disk. Missing disks are not an error.
func (b *Builder) RemoveDisk(name string) error {
	disk := b.DiskPath(name)
	if err := os.Remove(disk); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove disk %q: %w", disk, err)
	}
	return nil
}
