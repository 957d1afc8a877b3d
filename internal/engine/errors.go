package engine

import "fmt"

// ExpansionError is fatal and raised before any job runs: a job declared a
// matrix axis that is empty or repeats a value. Axis holds the repeated
// value and is empty when the axis itself is empty.
type ExpansionError struct {
	Job  string
	Axis string
}

func (e ExpansionError) Error() string {
	if e.Axis != "" {
		return fmt.Sprintf("job %q repeats matrix axis value %q", e.Job, e.Axis)
	}
	return fmt.Sprintf("job %q declares an empty matrix axis", e.Job)
}

// JobFailure is local to one job: a before_script or script step exited
// non-zero. It propagates to the scheduler as the job's terminal state and
// never crashes the engine.
type JobFailure struct {
	Step     string
	ExitCode int
}

func (e JobFailure) Error() string {
	return fmt.Sprintf("step %q exited with code %d", e.Step, e.ExitCode)
}

// StageError rejects a whole pipeline whose jobs resolved to a stage that
// is not in the declared sequence.
type StageError struct {
	Job   string
	Stage string
}

func (e StageError) Error() string {
	return fmt.Sprintf("job %q resolved to undeclared stage %q", e.Job, e.Stage)
}
