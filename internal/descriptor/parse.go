package descriptor

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/haatos/stageci/internal/util"
)

var reservedKeys = map[string]bool{
	"stages":    true,
	"variables": true,
	"cache":     true,
}

// StringList accepts either a single scalar or a sequence in YAML.
type StringList []string

func (s *StringList) UnmarshalYAML(b []byte) error {
	var single string
	if err := yaml.Unmarshal(b, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := yaml.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// rawJob mirrors a job or template entry as written in the descriptor.
// Pointer and nil-able fields keep track of which fields were set
// explicitly, which drives the merge precedence rules.
type rawJob struct {
	Extends      StringList     `yaml:"extends"`
	Stage        *string        `yaml:"stage"`
	BeforeScript []string       `yaml:"before_script"`
	Script       []string       `yaml:"script"`
	Image        *string        `yaml:"image"`
	Images       *[]string      `yaml:"images"`
	Variables    map[string]any `yaml:"variables"`
	Only         []string       `yaml:"only"`
	Except       []string       `yaml:"except"`
	Tags         []string       `yaml:"tags"`
	AllowFailure *bool          `yaml:"allow_failure"`
	Cache        *rawCache      `yaml:"cache"`
	Artifacts    *rawArtifacts  `yaml:"artifacts"`
}

type rawCache struct {
	Key   string   `yaml:"key"`
	Paths []string `yaml:"paths"`
}

type rawArtifacts struct {
	Name     string   `yaml:"name"`
	Paths    []string `yaml:"paths"`
	ExpireIn string   `yaml:"expire_in"`
	When     string   `yaml:"when"`
}

type parser struct {
	stages       []string
	rawTemplates map[string]*rawJob
}

// Load reads and parses a descriptor file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor: %w", err)
	}
	return Parse(data)
}

// Parse decodes a pipeline descriptor and resolves template inheritance,
// producing a validated Document. Hidden entries (keys with a leading dot)
// are templates; every other non-reserved key is a schedulable job.
func Parse(data []byte) (*Document, error) {
	var top map[string]any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, newSchemaErrorf("unparsable descriptor: %v", err)
	}

	doc := &Document{
		Variables: map[string]string{},
		Templates: map[string]*JobSpec{},
		Jobs:      map[string]*JobSpec{},
	}

	if err := decodeSection(top, "stages", &doc.Stages); err != nil {
		return nil, err
	}
	if len(doc.Stages) == 0 {
		return nil, newSchemaErrorf("descriptor declares no stages")
	}
	seen := map[string]bool{}
	for _, s := range doc.Stages {
		if seen[s] {
			return nil, newSchemaErrorf("duplicate stage %q", s)
		}
		seen[s] = true
	}

	var rawVars map[string]any
	if err := decodeSection(top, "variables", &rawVars); err != nil {
		return nil, err
	}
	doc.Variables = stringifyVariables(rawVars)

	var globalCache *rawCache
	if err := decodeSection(top, "cache", &globalCache); err != nil {
		return nil, err
	}
	if globalCache != nil {
		doc.Cache = &CacheSpec{KeyTemplate: globalCache.Key, Paths: globalCache.Paths}
	}

	p := &parser{stages: doc.Stages, rawTemplates: map[string]*rawJob{}}
	rawJobs := map[string]*rawJob{}
	for key, value := range top {
		if reservedKeys[key] {
			continue
		}
		rj := new(rawJob)
		if err := decodeValue(key, value, rj); err != nil {
			return nil, err
		}
		if strings.HasPrefix(key, ".") {
			p.rawTemplates[key] = rj
		} else {
			rawJobs[key] = rj
		}
	}

	// resolving every template up front surfaces cyclic or dangling
	// references even when no job extends them
	for name := range p.rawTemplates {
		chain, err := p.templateChain(name, map[string]bool{})
		if err != nil {
			return nil, err
		}
		merged := new(rawJob)
		for _, t := range chain {
			overlayTemplate(merged, t)
		}
		spec, err := p.buildSpec(name, merged, true)
		if err != nil {
			return nil, err
		}
		doc.Templates[name] = spec
	}

	for name, rj := range rawJobs {
		spec, err := p.resolveJob(name, rj)
		if err != nil {
			return nil, err
		}
		doc.Jobs[name] = spec
	}

	return doc, nil
}

// JobNames returns job names in a stable order.
func (d *Document) JobNames() []string {
	names := make([]string, 0, len(d.Jobs))
	for name := range d.Jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (p *parser) resolveJob(name string, raw *rawJob) (*JobSpec, error) {
	merged := new(rawJob)
	for _, ref := range raw.Extends {
		chain, err := p.templateChain(normalizeTemplateRef(ref), map[string]bool{})
		if err != nil {
			return nil, err
		}
		for _, t := range chain {
			overlayTemplate(merged, t)
		}
	}
	overlayJob(merged, raw)
	return p.buildSpec(name, merged, false)
}

// templateChain returns the template merge order for a reference: each
// template's own extends chain first, then the template itself. The
// visiting set catches cycles.
func (p *parser) templateChain(name string, visiting map[string]bool) ([]*rawJob, error) {
	if visiting[name] {
		return nil, newSchemaErrorf("cyclic template reference through %q", name)
	}
	tmpl, ok := p.rawTemplates[name]
	if !ok {
		return nil, newSchemaErrorf("undefined template %q", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	var chain []*rawJob
	for _, ref := range tmpl.Extends {
		sub, err := p.templateChain(normalizeTemplateRef(ref), visiting)
		if err != nil {
			return nil, err
		}
		chain = append(chain, sub...)
	}
	return append(chain, tmpl), nil
}

func (p *parser) buildSpec(name string, raw *rawJob, isTemplate bool) (*JobSpec, error) {
	spec := &JobSpec{
		Name:         name,
		BeforeScript: raw.BeforeScript,
		Script:       raw.Script,
		Variables:    stringifyVariables(raw.Variables),
		Tags:         raw.Tags,
	}
	if raw.Stage != nil {
		spec.Stage = *raw.Stage
	}
	if raw.AllowFailure != nil {
		spec.AllowFailure = *raw.AllowFailure
	}

	if raw.Images != nil {
		spec.Images = *raw.Images
		spec.AxisDeclared = true
	} else if raw.Image != nil {
		spec.Images = []string{*raw.Image}
	}

	only, err := compilePatterns(raw.Only)
	if err != nil {
		return nil, err
	}
	except, err := compilePatterns(raw.Except)
	if err != nil {
		return nil, err
	}
	spec.Rules = FilterRules{Only: only, Except: except}

	if raw.Cache != nil {
		spec.Cache = &CacheSpec{KeyTemplate: raw.Cache.Key, Paths: raw.Cache.Paths}
	}

	if raw.Artifacts != nil {
		artifacts := &ArtifactSpec{
			NameTemplate: raw.Artifacts.Name,
			Paths:        raw.Artifacts.Paths,
			When:         ArtifactOnSuccess,
		}
		if raw.Artifacts.When != "" {
			switch w := ArtifactWhen(raw.Artifacts.When); w {
			case ArtifactOnSuccess, ArtifactOnFailure, ArtifactAlways:
				artifacts.When = w
			default:
				return nil, newSchemaErrorf("job %q: unknown artifacts.when %q", name, raw.Artifacts.When)
			}
		}
		if raw.Artifacts.ExpireIn != "" {
			d, err := util.ParseRetention(raw.Artifacts.ExpireIn)
			if err != nil {
				return nil, newSchemaErrorf("job %q: invalid artifacts.expire_in: %v", name, err)
			}
			artifacts.ExpireIn = d
		}
		spec.Artifacts = artifacts
	}

	if isTemplate {
		return spec, nil
	}

	if spec.Stage == "" {
		return nil, newSchemaErrorf("job %q declares no stage", name)
	}
	if !slices.Contains(p.stages, spec.Stage) {
		return nil, newSchemaErrorf("job %q references undeclared stage %q", name, spec.Stage)
	}
	if len(spec.Script) == 0 {
		return nil, newSchemaErrorf("job %q has no script", name)
	}
	if spec.AxisDeclared {
		seenImages := map[string]bool{}
		for _, img := range spec.Images {
			if seenImages[img] {
				return nil, newSchemaErrorf("job %q repeats image %q", name, img)
			}
			seenImages[img] = true
		}
	}
	return spec, nil
}

func normalizeTemplateRef(ref string) string {
	if strings.HasPrefix(ref, ".") {
		return ref
	}
	return "." + ref
}

func decodeSection[T any](top map[string]any, key string, target *T) error {
	value, ok := top[key]
	if !ok || value == nil {
		return nil
	}
	return decodeValue(key, value, target)
}

func decodeValue(key string, value any, target any) error {
	b, err := yaml.Marshal(value)
	if err != nil {
		return newSchemaErrorf("invalid %q section: %v", key, err)
	}
	if err := yaml.Unmarshal(b, target); err != nil {
		return newSchemaErrorf("invalid %q section: %v", key, err)
	}
	return nil
}

func stringifyVariables(raw map[string]any) map[string]string {
	vars := make(map[string]string, len(raw))
	for k, v := range raw {
		vars[k] = fmt.Sprint(v)
	}
	return vars
}
