package credentials

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/efugier/pipelm/internal/configfile"
)

var (
	ErrNoCredentialConfigured    = errors.New("no credential configured")
	ErrCredentialExecutionFailed = errors.New("credential command failed")
)

type NoCredentialError struct {
	API string
}

func (e *NoCredentialError) Error() string {
	return fmt.Sprintf("%s: set api_key or api_key_command for %q", ErrNoCredentialConfigured, e.API)
}

func (e *NoCredentialError) Unwrap() error { return ErrNoCredentialConfigured }

type CommandError struct {
	API     string
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s for %q: `%s`", ErrCredentialExecutionFailed, e.API, e.Command)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Is(target error) bool { return target == ErrCredentialExecutionFailed }

func (e *CommandError) Unwrap() error { return e.Err }

// CommandRunner executes a key command and returns what it wrote.
type CommandRunner interface {
	Run(ctx context.Context, command string) (stdout, stderr []byte, err error)
}

// ShellRunner runs commands through `sh -c`.
type ShellRunner struct {
	Shell string
}

func (r ShellRunner) Run(ctx context.Context, command string) ([]byte, []byte, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type Resolver struct {
	runner  CommandRunner
	timeout time.Duration
}

func NewResolver(runner CommandRunner, timeout time.Duration) *Resolver {
	if runner == nil {
		runner = ShellRunner{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{runner: runner, timeout: timeout}
}

// Resolve returns the inline key when present; the key command only runs
// when no inline key is set.
func (r *Resolver) Resolve(ctx context.Context, api string, cfg configfile.APIConfig) (string, error) {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		return key, nil
	}

	command := strings.TrimSpace(cfg.APIKeyCommand)
	if command == "" {
		return "", &NoCredentialError{API: api}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout, stderr, err := r.runner.Run(runCtx, command)
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", r.timeout, err)
		}
		return "", &CommandError{API: api, Command: command, Stderr: strings.TrimSpace(string(stderr)), Err: err}
	}

	key := strings.TrimRight(string(stdout), " \t\r\n")
	if key == "" {
		return "", &CommandError{API: api, Command: command, Stderr: "empty output"}
	}
	return key, nil
}
