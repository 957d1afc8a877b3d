package descriptor

import "maps"

// overlayTemplate merges a template into the accumulated raw job with
// template precedence: later templates win for scalar fields, list fields
// concatenate in merge order, variable maps merge key-wise.
func overlayTemplate(dst, src *rawJob) {
	if src.Stage != nil {
		dst.Stage = src.Stage
	}
	if src.Image != nil {
		dst.Image = src.Image
	}
	if src.AllowFailure != nil {
		dst.AllowFailure = src.AllowFailure
	}
	if src.Cache != nil {
		dst.Cache = src.Cache
	}
	if src.Artifacts != nil {
		dst.Artifacts = src.Artifacts
	}

	dst.BeforeScript = append(dst.BeforeScript, src.BeforeScript...)
	dst.Script = append(dst.Script, src.Script...)
	dst.Tags = append(dst.Tags, src.Tags...)
	dst.Only = append(dst.Only, src.Only...)
	dst.Except = append(dst.Except, src.Except...)
	if src.Images != nil {
		if dst.Images == nil {
			dst.Images = new([]string)
		}
		*dst.Images = append(*dst.Images, *src.Images...)
	}

	mergeVariables(dst, src)
}

// overlayJob applies the concrete job on top of its merged templates with
// concrete-job-wins precedence: any field the job sets explicitly replaces
// the inherited value, including list fields, which are replaced wholesale
// rather than concatenated.
func overlayJob(dst, src *rawJob) {
	if src.Stage != nil {
		dst.Stage = src.Stage
	}
	if src.Image != nil {
		dst.Image = src.Image
	}
	if src.AllowFailure != nil {
		dst.AllowFailure = src.AllowFailure
	}
	if src.Cache != nil {
		dst.Cache = src.Cache
	}
	if src.Artifacts != nil {
		dst.Artifacts = src.Artifacts
	}

	if src.BeforeScript != nil {
		dst.BeforeScript = src.BeforeScript
	}
	if src.Script != nil {
		dst.Script = src.Script
	}
	if src.Tags != nil {
		dst.Tags = src.Tags
	}
	if src.Only != nil {
		dst.Only = src.Only
	}
	if src.Except != nil {
		dst.Except = src.Except
	}
	if src.Images != nil {
		dst.Images = src.Images
	}

	mergeVariables(dst, src)
}

func mergeVariables(dst, src *rawJob) {
	if len(src.Variables) == 0 {
		return
	}
	if dst.Variables == nil {
		dst.Variables = make(map[string]any, len(src.Variables))
	}
	maps.Copy(dst.Variables, src.Variables)
}
