package engine

import (
	"os"

	"github.com/haatos/stageci/internal/descriptor"
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "cancelled"
	StateSkipped   State = "skipped"
)

// Terminal reports whether a state is final for a job or run.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled, StateSkipped:
		return true
	}
	return false
}

// ExpandedJob is one concrete execution unit: a merged JobSpec combined
// with a single matrix axis value. Its identity is (spec name, axis).
type ExpandedJob struct {
	Name     string
	SpecName string
	Axis     string
	Stage    string
	Image    string

	BeforeScript []string
	Script       []string
	Variables    map[string]string
	Tags         []string
	AllowFailure bool

	Rules     descriptor.FilterRules
	Cache     *descriptor.CacheSpec
	Artifacts *descriptor.ArtifactSpec
}

// Interpolate expands $VAR and ${VAR} references in a template string
// against the job's resolved variables. Unknown variables expand to the
// empty string.
func Interpolate(template string, vars map[string]string) string {
	return os.Expand(template, func(name string) string {
		return vars[name]
	})
}
