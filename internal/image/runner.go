package image

import (
	"context"
	"os/exec"
)

// runner executes an external command and returns its combined output. The
// seam exists so tests can assert command lines without executing anything.
type runner interface {
	run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner is the production runner.
type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
