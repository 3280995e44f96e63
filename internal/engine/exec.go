package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"evron/internal/job"
)

// ShellRunner executes the "command" param of a job spec through sh -c.
// It is the default runner wired by the daemon; tests substitute their own.
type ShellRunner struct {
	// Shell defaults to /bin/sh.
	Shell string
}

func (r *ShellRunner) Run(ctx context.Context, spec job.Spec) error {
	params, _ := spec["params"].(map[string]any)
	command, _ := params["command"].(string)
	if command == "" {
		return errors.New("spec params carry no command")
	}

	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if stderr.Len() > 0 {
			return fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return err
	}
	return nil
}
