// Package docker runs freqtrade commands inside the compose-managed
// container and turns each invocation into a parsed log summary.
package docker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"ftpilot/internal/config"
	"ftpilot/internal/ftlog"
	"ftpilot/internal/logger"
)

// ExecError carries everything needed to diagnose a failed container run.
// The runtime's own error text is often opaque, so Message is lifted from
// the first ERROR entry of the parsed log when one exists.
type ExecError struct {
	Message  string
	Cause    error
	Command  []string
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *ExecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExecError) Unwrap() error { return e.Cause }

// runner abstracts the actual process spawn so tests can fake it.
type runner interface {
	run(ctx context.Context, bin string, args []string) (stdout, stderr []byte, exitCode int, err error)
}

// Gateway executes compose services and attaches a per-invocation log
// artifact so concurrent runs never collide on log output.
type Gateway struct {
	cfg    *config.FreqtradeConfig
	runner runner
}

func NewGateway(cfg *config.FreqtradeConfig) *Gateway {
	return &Gateway{cfg: cfg, runner: execRunner{}}
}

// Run invokes `docker compose run --rm <service> <args...>` with a unique
// --logfile appended. Whatever happens to the process, the log artifact is
// parsed and then removed; callers always get the summary when the file
// could be read.
func (g *Gateway) Run(ctx context.Context, service string, args []string) (*ftlog.Summary, error) {
	artifact := fmt.Sprintf("%s.jsonl", uuid.NewString())
	hostLog := filepath.Join(g.cfg.LogsDir(), artifact)
	// Path as seen from inside the container (user_data is bind-mounted).
	containerLog := filepath.Join("user_data", "logs", artifact)

	full := append(append([]string{}, args...), "--logfile", containerLog)
	cmd := append([]string{"docker", "compose", "-f", g.cfg.ComposeFile, "run", "--rm", service}, full...)

	logger.Debugf("container run: %v", cmd)
	stdout, stderr, exitCode, runErr := g.runner.run(ctx, cmd[0], cmd[1:])

	summary := g.collectLog(hostLog)

	if runErr != nil || exitCode != 0 {
		msg := fmt.Sprintf("container command failed (exit=%d)", exitCode)
		if summary != nil && len(summary.Errors) > 0 {
			msg = summary.Errors[0].Message
		}
		return summary, &ExecError{
			Message:  msg,
			Cause:    runErr,
			Command:  cmd,
			Stdout:   string(stdout),
			Stderr:   string(stderr),
			ExitCode: exitCode,
		}
	}
	if summary == nil {
		// The process succeeded but never wrote its log artifact; hand back
		// an empty summary rather than nil so callers can still query it.
		summary = &ftlog.Summary{}
	}
	return summary, nil
}

// collectLog parses and then deletes the log artifact. Runs on both the
// success and failure paths.
func (g *Gateway) collectLog(hostLog string) *ftlog.Summary {
	defer func() {
		if err := os.Remove(hostLog); err != nil && !os.IsNotExist(err) {
			logger.Warnf("failed to remove log artifact %s: %v", hostLog, err)
		}
	}()
	summary, err := ftlog.ParseFile(hostLog)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("failed to read log artifact %s: %v", hostLog, err)
		}
		return nil
	}
	return summary
}
