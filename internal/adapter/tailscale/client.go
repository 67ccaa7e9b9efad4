// Package tailscale drives the tailscale CLI and maps its JSON status
// output onto snapshot types. It is the sole collaborator the engine
// observes and mutates backend state through.
package tailscale

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"tailctl"
)

const (
	// statusTimeout bounds a single `status --json` call; past this the
	// fetch counts as failed, not hung.
	statusTimeout = 15 * time.Second
	// upTimeout is generous: `up` may wait for interactive auth.
	upTimeout = 60 * time.Second
	// commandTimeout covers down and set, which return quickly.
	commandTimeout = 15 * time.Second

	// exitCodeTimeout marks a run killed by its deadline. Never retried
	// under sudo.
	exitCodeTimeout = 124
)

// Client runs the tailscale binary. Implements engine.Backend.
type Client struct {
	binary string
	sudo   string // path to sudo, empty when unavailable
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the tailscale executable path. Defaults to
// "tailscale" resolved via PATH.
func WithBinary(path string) Option {
	return func(c *Client) { c.binary = path }
}

// NewClient resolves the tailscale binary. Returns ErrUnavailable when it
// cannot be found: the control surface disables mutating controls on that.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{binary: "tailscale"}
	for _, opt := range opts {
		opt(c)
	}

	resolved, err := exec.LookPath(c.binary)
	if err != nil {
		// An explicit absolute path may exist without being on PATH.
		if filepath.IsAbs(c.binary) {
			if _, statErr := os.Stat(c.binary); statErr == nil {
				resolved = c.binary
				err = nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %q not found in PATH", tailctl.ErrUnavailable, c.binary)
		}
	}
	c.binary = resolved

	if sudo, err := exec.LookPath("sudo"); err == nil {
		c.sudo = sudo
	}
	return c, nil
}

// Status fetches one point-in-time snapshot.
func (c *Client) Status(ctx context.Context) (tailctl.Status, error) {
	out, err := c.run(ctx, statusTimeout, c.binary, "status", "--json")
	if err != nil {
		return tailctl.Status{}, &tailctl.CommandError{Op: "status", Message: errMessage(err, out)}
	}
	return parseStatus(out)
}

// Up brings the tunnel up. extraArgs are passed through verbatim.
func (c *Client) Up(ctx context.Context, extraArgs []string) error {
	args := append([]string{"up"}, extraArgs...)
	out, err := c.run(ctx, upTimeout, c.binary, args...)
	if err != nil {
		return &tailctl.CommandError{Op: "up", Message: errMessage(err, out)}
	}
	return nil
}

// Down tears the tunnel down.
func (c *Client) Down(ctx context.Context) error {
	out, err := c.run(ctx, commandTimeout, c.binary, "down")
	if err != nil {
		return &tailctl.CommandError{Op: "down", Message: errMessage(err, out)}
	}
	return nil
}

// SetExitNode selects arg as the egress device, or clears the selection
// when arg is empty. A permission-style failure is retried once under sudo.
func (c *Client) SetExitNode(ctx context.Context, arg string) error {
	var args []string
	if arg != "" {
		args = []string{"set", "--accept-routes=true", "--exit-node=" + arg}
	} else {
		args = []string{"set", "--accept-routes=false", "--exit-node="}
	}

	out, err := c.run(ctx, commandTimeout, c.binary, args...)
	if err == nil {
		return nil
	}
	msg := errMessage(err, out)

	if c.sudo != "" && shouldRetryWithSudo(exitCode(err), msg) {
		sudoOut, sudoErr := c.run(ctx, commandTimeout, c.sudo, append([]string{c.binary}, args...)...)
		if sudoErr == nil {
			return nil
		}
		if m := errMessage(sudoErr, sudoOut); m != "" {
			msg = m
		}
	}
	return &tailctl.CommandError{Op: "set-exit-node", Message: msg}
}

// run executes one CLI call with its own deadline, returning combined
// output on failure so error messages carry the backend's words.
func (c *Client) run(ctx context.Context, timeout time.Duration, bin string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("timeout after %s", timeout)
	}
	if stderr.Len() > 0 {
		return stderr.Bytes(), err
	}
	return stdout.Bytes(), err
}

// shouldRetryWithSudo classifies a set-exit-node failure as a permission
// problem worth one sudo retry. Timeouts (code 124) are never retried.
func shouldRetryWithSudo(code int, message string) bool {
	if code == 0 || code == exitCodeTimeout {
		return false
	}
	lowered := strings.ToLower(message)
	for _, token := range []string{
		"permission denied",
		"must be root",
		"requires root",
		"requires sudo",
		"sudo",
		"operation not permitted",
	} {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func errMessage(err error, out []byte) string {
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return msg
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
