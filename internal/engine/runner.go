package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Runner executes an expanded job's shell steps inside some execution
// environment and streams the captured log to out. The environment's
// internals (process isolation, image provisioning) are the collaborator's
// concern, not the engine's.
type Runner interface {
	RunJob(ctx context.Context, job *ExpandedJob, workdir string, out io.Writer) error
}

// LocalRunner runs job steps as local shell processes in the job's
// workspace directory.
type LocalRunner struct {
	Shell string
}

func NewLocalRunner() *LocalRunner {
	return &LocalRunner{Shell: "/bin/sh"}
}

// RunJob runs before_script steps in order, halting on the first non-zero
// exit, and only then the script steps under the same policy. The returned
// JobFailure carries the failing step and its exit code.
func (r *LocalRunner) RunJob(
	ctx context.Context,
	job *ExpandedJob,
	workdir string,
	out io.Writer,
) error {
	for _, step := range job.BeforeScript {
		if err := r.runStep(ctx, job, workdir, step, out); err != nil {
			return err
		}
	}
	for _, step := range job.Script {
		if err := r.runStep(ctx, job, workdir, step, out); err != nil {
			return err
		}
	}
	return nil
}

func (r *LocalRunner) runStep(
	ctx context.Context,
	job *ExpandedJob,
	workdir, step string,
	out io.Writer,
) error {
	fmt.Fprintf(out, "$ %s\n", step)

	cmd := exec.CommandContext(ctx, r.Shell, "-c", step)
	cmd.Dir = workdir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(), environ(job.Variables)...)

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return JobFailure{Step: step, ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("starting step %q: %w", step, err)
}

func environ(vars map[string]string) []string {
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	return env
}
