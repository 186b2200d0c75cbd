package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandResult is the captured output of one external command.
type CommandResult struct {
	Command string
	Stdout  string
	Stderr  string
	Err     error
}

// OK reports whether the command ran and exited zero.
func (r CommandResult) OK() bool {
	return r.Err == nil
}

// CommandRunner runs one external command line to completion.
type CommandRunner interface {
	Run(ctx context.Context, command string) CommandResult
}

// ExecRunner runs commands as child processes in Dir.
type ExecRunner struct {
	Dir string
}

// Run executes command with sh -c, so quoted arguments behave as they
// would in a terminal.
func (e ExecRunner) Run(ctx context.Context, command string) CommandResult {
	res := CommandResult{Command: command}
	if strings.TrimSpace(command) == "" {
		res.Err = errors.New("monitor: empty command")
		return res
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if err != nil {
		res.Err = fmt.Errorf("monitor: run %q: %w", command, err)
	}
	return res
}
