package codex

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Runner executes the codex binary. The indirection exists so tests can
// substitute a fake process.
type Runner interface {
	Run(ctx context.Context, dir, stdin, name string, args ...string) (stdout, stderr string, err error)
}

// execRunner runs the real process via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, stdin, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Stdin = strings.NewReader(stdin)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	return outBuf.String(), errBuf.String(), err
}
