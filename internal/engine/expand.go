package engine

import (
	"fmt"
	"maps"

	"github.com/haatos/stageci/internal/descriptor"
)

// Expand turns every merged JobSpec in the document into concrete
// ExpandedJobs. A job with a matrix axis of K values produces K jobs named
// "job:axis"; a job without an axis produces exactly one. A declared but
// empty axis, or an axis repeating a value, is an ExpansionError.
func Expand(doc *descriptor.Document, trigger descriptor.TriggerContext) ([]*ExpandedJob, error) {
	var jobs []*ExpandedJob
	for _, name := range doc.JobNames() {
		spec := doc.Jobs[name]
		expanded, err := expandSpec(doc, spec, trigger)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, expanded...)
	}
	return jobs, nil
}

// Filter returns the expanded jobs whose rules include the trigger.
func Filter(jobs []*ExpandedJob, trigger descriptor.TriggerContext) []*ExpandedJob {
	included := make([]*ExpandedJob, 0, len(jobs))
	for _, job := range jobs {
		if job.Rules.Includes(trigger) {
			included = append(included, job)
		}
	}
	return included
}

func expandSpec(
	doc *descriptor.Document,
	spec *descriptor.JobSpec,
	trigger descriptor.TriggerContext,
) ([]*ExpandedJob, error) {
	if spec.AxisDeclared {
		if len(spec.Images) == 0 {
			return nil, ExpansionError{Job: spec.Name}
		}
		// axis values become part of the job identity, so repeats would
		// collide downstream
		seen := make(map[string]bool, len(spec.Images))
		for _, axis := range spec.Images {
			if seen[axis] {
				return nil, ExpansionError{Job: spec.Name, Axis: axis}
			}
			seen[axis] = true
		}
	}

	cache := spec.Cache
	if cache == nil {
		cache = doc.Cache
	}

	axes := spec.Images
	if len(axes) == 0 {
		axes = []string{""}
	}

	jobs := make([]*ExpandedJob, 0, len(axes))
	for _, axis := range axes {
		job := &ExpandedJob{
			Name:         spec.Name,
			SpecName:     spec.Name,
			Stage:        spec.Stage,
			Image:        axis,
			BeforeScript: spec.BeforeScript,
			Script:       spec.Script,
			Tags:         spec.Tags,
			AllowFailure: spec.AllowFailure,
			Rules:        spec.Rules,
			Cache:        cache,
			Artifacts:    spec.Artifacts,
		}
		if spec.AxisDeclared {
			job.Axis = axis
			job.Name = fmt.Sprintf("%s:%s", spec.Name, axis)
		}
		job.Variables = resolveVariables(doc, spec, job, trigger)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// resolveVariables layers global variables, job variables and the
// predefined trigger/job variables, in increasing precedence.
func resolveVariables(
	doc *descriptor.Document,
	spec *descriptor.JobSpec,
	job *ExpandedJob,
	trigger descriptor.TriggerContext,
) map[string]string {
	vars := make(map[string]string, len(doc.Variables)+len(spec.Variables)+8)
	maps.Copy(vars, doc.Variables)
	maps.Copy(vars, spec.Variables)

	vars["CI_COMMIT_REF_NAME"] = trigger.RefName
	vars["CI_COMMIT_REF_KIND"] = string(trigger.RefKind)
	vars["CI_JOB_NAME"] = job.Name
	vars["CI_JOB_STAGE"] = job.Stage
	if job.Image != "" {
		vars["CI_JOB_IMAGE"] = job.Image
	}
	return vars
}
