package descriptor

import (
	"regexp"
	"strings"
)

// Pattern matches a ref name either literally or, in `/.../` delimited
// form, as a regular expression. Patterns are compiled at parse time so an
// invalid filter never silently passes at evaluation time.
type Pattern struct {
	raw     string
	literal string
	re      *regexp.Regexp
}

func compilePattern(raw string) (Pattern, error) {
	if strings.HasPrefix(raw, "/") && strings.HasSuffix(raw, "/") && len(raw) > 1 {
		re, err := regexp.Compile(strings.TrimSuffix(strings.TrimPrefix(raw, "/"), "/"))
		if err != nil {
			return Pattern{}, newSchemaErrorf("unparsable filter pattern %q: %v", raw, err)
		}
		return Pattern{raw: raw, re: re}, nil
	}
	return Pattern{raw: raw, literal: raw}, nil
}

func (p Pattern) Matches(ref string) bool {
	if p.re != nil {
		return p.re.MatchString(ref)
	}
	return p.literal == ref
}

func (p Pattern) String() string {
	return p.raw
}

// FilterRules decide whether a job is included for a trigger context.
type FilterRules struct {
	Only   []Pattern
	Except []Pattern
}

// Includes evaluates the rules against a trigger. An `except` match
// excludes the job regardless of `only`; with `only` present at least one
// pattern must match; without `only` the default is inclusion.
func (r FilterRules) Includes(trigger TriggerContext) bool {
	for _, p := range r.Except {
		if p.Matches(trigger.RefName) {
			return false
		}
	}
	if len(r.Only) == 0 {
		return true
	}
	for _, p := range r.Only {
		if p.Matches(trigger.RefName) {
			return true
		}
	}
	return false
}

func compilePatterns(raw []string) ([]Pattern, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	patterns := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := compilePattern(r)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}
