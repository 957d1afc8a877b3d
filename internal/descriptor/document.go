package descriptor

import "time"

type RefKind string

const (
	RefBranch RefKind = "branch"
	RefTag    RefKind = "tag"
)

// TriggerContext describes what started a pipeline run. It is supplied by
// the surrounding system and immutable for the run's duration.
type TriggerContext struct {
	RefName string
	RefKind RefKind
}

// Document is a parsed, validated pipeline descriptor. Jobs are fully
// merged: template inheritance has already been resolved.
type Document struct {
	Stages    []string
	Variables map[string]string
	Cache     *CacheSpec
	Templates map[string]*JobSpec
	Jobs      map[string]*JobSpec
}

// StageIndex returns the position of a stage in the declared order, or -1.
func (d *Document) StageIndex(stage string) int {
	for i, s := range d.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// JobSpec is a merged job definition. Templates (hidden `.name` entries)
// share the same shape but are never scheduled.
type JobSpec struct {
	Name         string
	Stage        string
	BeforeScript []string
	Script       []string
	Variables    map[string]string
	Tags         []string
	AllowFailure bool

	// Images is the matrix axis. AxisDeclared distinguishes an absent
	// axis (one expanded job) from a declared-but-empty one (an error).
	Images       []string
	AxisDeclared bool

	Rules     FilterRules
	Cache     *CacheSpec
	Artifacts *ArtifactSpec
}

type CacheSpec struct {
	KeyTemplate string
	Paths       []string
}

type ArtifactWhen string

const (
	ArtifactOnSuccess ArtifactWhen = "on_success"
	ArtifactOnFailure ArtifactWhen = "on_failure"
	ArtifactAlways    ArtifactWhen = "always"
)

// PersistFor reports whether artifacts should be persisted for a job that
// finished with the given success/failure outcome.
func (w ArtifactWhen) PersistFor(succeeded bool) bool {
	switch w {
	case ArtifactOnFailure:
		return !succeeded
	case ArtifactAlways:
		return true
	default:
		return succeeded
	}
}

type ArtifactSpec struct {
	NameTemplate string
	Paths        []string
	ExpireIn     time.Duration
	When         ArtifactWhen
}
