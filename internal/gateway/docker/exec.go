package docker

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// execRunner spawns the real process and waits for it.
type execRunner struct{}

func (execRunner) run(ctx context.Context, bin string, args []string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}
