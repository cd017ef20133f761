package image

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner records every invocation instead of executing it. If failWith is
// set, each run reports that error.
type fakeRunner struct {
	calls    [][]string
	failWith error
	onRun    func(name string, args []string)
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if f.onRun != nil {
		f.onRun(name, args)
	}
	if f.failWith != nil {
		return []byte("boom"), f.failWith
	}
	return nil, nil
}

// newTestBuilder returns a Builder over a temp image dir with a base image
// for version 9.4 already in place, plus the fake runner it uses.
func newTestBuilder(t *testing.T) (*Builder, *fakeRunner) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "rhel-9.4.qcow2"), []byte("base"), 0o644); err != nil {
		t.Fatal(err)
	}
	fake := &fakeRunner{}
	b := NewBuilder(dir)
	b.run = fake
	return b, fake
}

func Test_Builder_Paths(t *testing.T) {
	b := NewBuilder("/srv/images")
	if got := b.BasePath("9.4"); got != "/srv/images/rhel-9.4.qcow2" {
		t.Errorf("BasePath = %q", got)
	}
	if got := b.DiskPath("testvm"); got != "/srv/images/testvm.qcow2" {
		t.Errorf("DiskPath = %q", got)
	}
}

func Test_Builder_CheckBase(t *testing.T) {
	b, _ := newTestBuilder(t)

	base, err := b.CheckBase("9.4")
	if err != nil {
		t.Fatalf("CheckBase: %v", err)
	}
	if !strings.HasSuffix(base, "rhel-9.4.qcow2") {
		t.Errorf("base = %q", base)
	}

	if _, err := b.CheckBase("8.10"); !errors.Is(err, ErrBaseImageMissing) {
		t.Errorf("CheckBase for absent version = %v, want ErrBaseImageMissing", err)
	}
}

func Test_Builder_CreateDisk(t *testing.T) {
	b, fake := newTestBuilder(t)
	ctx := context.Background()

	// The real qemu-img creates the file; the fake has to stand in.
	fake.onRun = func(name string, args []string) {
		if name == "qemu-img" {
			os.WriteFile(args[len(args)-1], []byte("disk"), 0o644)
		}
	}

	disk, err := b.CreateDisk(ctx, "9.4", "testvm")
	if err != nil {
		t.Fatalf("CreateDisk: %v", err)
	}
	if disk != b.DiskPath("testvm") {
		t.Errorf("disk = %q, want %q", disk, b.DiskPath("testvm"))
	}

	if len(fake.calls) != 1 {
		t.Fatalf("expected 1 command, got %d", len(fake.calls))
	}
	want := []string{"qemu-img", "create", "-f", "qcow2", "-b", b.BasePath("9.4"), "-F", "qcow2", disk}
	if got := fake.calls[0]; !equalArgs(got, want) {
		t.Errorf("command = %v, want %v", got, want)
	}

	fi, err := os.Stat(disk)
	if err != nil {
		t.Fatalf("stat disk: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("disk mode = %o, want 0600", fi.Mode().Perm())
	}

	// A second clone for the same name must refuse to clobber the disk.
	if _, err := b.CreateDisk(ctx, "9.4", "testvm"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate CreateDisk = %v, want already exists error", err)
	}
}

func Test_Builder_CreateDisk_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing base image", func(t *testing.T) {
		b, fake := newTestBuilder(t)
		if _, err := b.CreateDisk(ctx, "8.10", "testvm"); !errors.Is(err, ErrBaseImageMissing) {
			t.Errorf("err = %v, want ErrBaseImageMissing", err)
		}
		if len(fake.calls) != 0 {
			t.Errorf("no command should run without a base image, got %v", fake.calls)
		}
	})

	t.Run("qemu-img failure surfaces output", func(t *testing.T) {
		b, fake := newTestBuilder(t)
		fake.failWith = fmt.Errorf("exit status 1")
		_, err := b.CreateDisk(ctx, "9.4", "testvm")
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Errorf("err = %v, want wrapped command output", err)
		}
	})
}

func Test_Builder_Customize(t *testing.T) {
	b, fake := newTestBuilder(t)
	ctx := context.Background()

	var scriptPath string
	var staged []byte
	fake.onRun = func(name string, args []string) {
		if name == "virt-customize" {
			scriptPath = args[len(args)-1]
			staged, _ = os.ReadFile(scriptPath)
		}
	}

	if err := b.Customize(ctx, "/srv/images/testvm.qcow2", "#!/bin/sh\necho hi\n", "testvm.local"); err != nil {
		t.Fatalf("Customize: %v", err)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("expected 1 command, got %d", len(fake.calls))
	}
	call := fake.calls[0]
	wantPrefix := []string{"virt-customize", "-a", "/srv/images/testvm.qcow2", "--hostname", "testvm.local", "--firstboot"}
	if !equalArgs(call[:len(call)-1], wantPrefix) {
		t.Errorf("command = %v, want prefix %v", call, wantPrefix)
	}
	if string(staged) != "#!/bin/sh\necho hi\n" {
		t.Errorf("staged script = %q", staged)
	}

	// The staged temp file is cleaned up afterwards.
	if _, err := os.Stat(scriptPath); !os.IsNotExist(err) {
		t.Errorf("firstboot temp file %q not removed", scriptPath)
	}
}

func Test_Builder_RemoveDisk(t *testing.T) {
	b, _ := newTestBuilder(t)

	disk := b.DiskPath("testvm")
	if err := os.WriteFile(disk, []byte("disk"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := b.RemoveDisk("testvm"); err != nil {
		t.Fatalf("RemoveDisk: %v", err)
	}
	if _, err := os.Stat(disk); !os.IsNotExist(err) {
		t.Error("disk still present after RemoveDisk")
	}

	// Missing disk is not an error.
	if err := b.RemoveDisk("testvm"); err != nil {
		t.Errorf("RemoveDisk of absent disk = %v, want nil", err)
	}
}

func equalArgs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
