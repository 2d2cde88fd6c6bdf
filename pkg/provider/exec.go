package provider

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// killGrace is how long a backend process gets to exit after its context
// is cancelled before Wait gives up on it.
const killGrace = 10 * time.Second

// invocation describes one backend process execution.
type invocation struct {
	Path  string
	Args  []string
	Dir   string
	Env   []string
	Stdin string
}

// invokeResult captures a finished backend process.
type invokeResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// resolveBinary locates the backend executable, honoring an explicit
// override from the provider settings.
func resolveBinary(override, fallback, backend string) (string, error) {
	candidate := override
	if candidate == "" {
		candidate = fallback
	}
	path, err := exec.LookPath(candidate)
	if err != nil {
		return "", Errorf(KindUnavailable, backend, "executable %q not found: %v", candidate, err)
	}
	return path, nil
}

// invoke runs a backend process to completion under ctx. A nonzero exit is
// reported in the result, not as an error; context expiry terminates the
// process and surfaces the context error.
func invoke(ctx context.Context, backend string, inv invocation) (*invokeResult, error) {
	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = inv.Env
	}
	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &invokeResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, NewError(KindOf(ctxErr, KindTimeout), backend, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, Errorf(KindUnavailable, backend, "failed to run %s: %v", inv.Path, err)
	}
	return result, nil
}

// tail returns the last n bytes of s for error detail.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
