package engine

import (
	"testing"

	"github.com/haatos/stageci/internal/descriptor"
	"github.com/stretchr/testify/assert"
)

const matrixDescriptor = `
stages:
  - test
  - build
  - deploy

variables:
  PROJECT: toxcore

unit-tests:
  stage: test
  script:
    - make test
  images:
    - 1.21.0
    - stable
    - beta
    - nightly
  only:
    - master
  except:
    - /test.*/

package:
  stage: build
  script:
    - make package

release:
  stage: deploy
  script:
    - make release
  only:
    - /^v[0-9]+\./
`

func parseDoc(t *testing.T, data string) *descriptor.Document {
	t.Helper()
	doc, err := descriptor.Parse([]byte(data))
	assert.NoError(t, err)
	return doc
}

func TestExpand_MatrixAxis(t *testing.T) {
	// arrange
	doc := parseDoc(t, matrixDescriptor)
	trigger := descriptor.TriggerContext{RefName: "master", RefKind: descriptor.RefBranch}

	// act
	jobs, err := Expand(doc, trigger)

	// assert
	assert.NoError(t, err)
	// 4 axis values for unit-tests plus package and release
	assert.Len(t, jobs, 6)

	var names []string
	for _, job := range jobs {
		names = append(names, job.Name)
	}
	assert.Contains(t, names, "unit-tests:1.21.0")
	assert.Contains(t, names, "unit-tests:stable")
	assert.Contains(t, names, "unit-tests:beta")
	assert.Contains(t, names, "unit-tests:nightly")
	assert.Contains(t, names, "package")
	assert.Contains(t, names, "release")

	for _, job := range jobs {
		if job.SpecName != "unit-tests" {
			continue
		}
		assert.Equal(t, "test", job.Stage)
		assert.Equal(t, job.Axis, job.Image)
		assert.Equal(t, job.Image, job.Variables["CI_JOB_IMAGE"])
		assert.Equal(t, job.Name, job.Variables["CI_JOB_NAME"])
	}
}

func TestExpand_EmptyDeclaredAxis(t *testing.T) {
	// arrange
	doc := parseDoc(t, `
stages: [test]
unit-tests:
  stage: test
  script: [make test]
  images: []
`)

	// act
	jobs, err := Expand(doc, descriptor.TriggerContext{RefName: "master"})

	// assert
	assert.Nil(t, jobs)
	var expansionErr ExpansionError
	assert.ErrorAs(t, err, &expansionErr)
	assert.Equal(t, "unit-tests", expansionErr.Job)
}

func TestExpand_DuplicateAxisValueRejected(t *testing.T) {
	// arrange
	doc := &descriptor.Document{
		Stages: []string{"build"},
		Jobs: map[string]*descriptor.JobSpec{
			"compile": {
				Name:         "compile",
				Stage:        "build",
				Script:       []string{"make"},
				Images:       []string{"stable", "stable"},
				AxisDeclared: true,
			},
		},
	}

	// act
	jobs, err := Expand(doc, descriptor.TriggerContext{RefName: "master"})

	// assert
	assert.Nil(t, jobs)
	var expansionErr ExpansionError
	assert.ErrorAs(t, err, &expansionErr)
	assert.Equal(t, "compile", expansionErr.Job)
	assert.Equal(t, "stable", expansionErr.Axis)
}

func TestExpand_NoAxisKeepsPlainName(t *testing.T) {
	// arrange
	doc := parseDoc(t, `
stages: [test]
lint:
  stage: test
  script: [make lint]
  image: stable
`)

	// act
	jobs, err := Expand(doc, descriptor.TriggerContext{RefName: "master"})

	// assert
	assert.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, "lint", jobs[0].Name)
	assert.Equal(t, "", jobs[0].Axis)
	assert.Equal(t, "stable", jobs[0].Image)
}

func TestExpand_VariablePrecedence(t *testing.T) {
	// arrange
	doc := parseDoc(t, `
stages: [test]
variables:
  LEVEL: global
  GLOBAL_ONLY: set
unit-tests:
  stage: test
  script: [make test]
  variables:
    LEVEL: job
    CI_JOB_STAGE: spoofed
`)
	trigger := descriptor.TriggerContext{RefName: "develop", RefKind: descriptor.RefBranch}

	// act
	jobs, err := Expand(doc, trigger)

	// assert
	assert.NoError(t, err)
	vars := jobs[0].Variables
	assert.Equal(t, "job", vars["LEVEL"])
	assert.Equal(t, "set", vars["GLOBAL_ONLY"])
	// predefined variables always win
	assert.Equal(t, "test", vars["CI_JOB_STAGE"])
	assert.Equal(t, "develop", vars["CI_COMMIT_REF_NAME"])
	assert.Equal(t, "branch", vars["CI_COMMIT_REF_KIND"])
}

func TestExpand_CacheFallback(t *testing.T) {
	// arrange
	doc := parseDoc(t, `
stages: [test]
cache:
  key: global-key
  paths: [shared/]
with-own-cache:
  stage: test
  script: [make test]
  cache:
    key: own-key
    paths: [own/]
inherits-cache:
  stage: test
  script: [make test]
`)

	// act
	jobs, err := Expand(doc, descriptor.TriggerContext{RefName: "master"})

	// assert
	assert.NoError(t, err)
	byName := map[string]*ExpandedJob{}
	for _, job := range jobs {
		byName[job.Name] = job
	}
	assert.Equal(t, "own-key", byName["with-own-cache"].Cache.KeyTemplate)
	assert.Equal(t, "global-key", byName["inherits-cache"].Cache.KeyTemplate)
}

func TestFilter(t *testing.T) {
	doc := parseDoc(t, matrixDescriptor)

	t.Run("master includes the matrix and package, not release", func(t *testing.T) {
		// arrange
		trigger := descriptor.TriggerContext{RefName: "master", RefKind: descriptor.RefBranch}
		jobs, err := Expand(doc, trigger)
		assert.NoError(t, err)

		// act
		included := Filter(jobs, trigger)

		// assert
		assert.Len(t, included, 5)
		for _, job := range included {
			assert.NotEqual(t, "release", job.Name)
		}
	})
	t.Run("test branch is excluded even though only would not match", func(t *testing.T) {
		// arrange
		trigger := descriptor.TriggerContext{RefName: "test-branch", RefKind: descriptor.RefBranch}
		jobs, err := Expand(doc, trigger)
		assert.NoError(t, err)

		// act
		included := Filter(jobs, trigger)

		// assert
		// only package survives: unit-tests is excluded by except and
		// release's only does not match
		assert.Len(t, included, 1)
		assert.Equal(t, "package", included[0].Name)
	})
	t.Run("version tag includes release", func(t *testing.T) {
		// arrange
		trigger := descriptor.TriggerContext{RefName: "v0.2.18", RefKind: descriptor.RefTag}
		jobs, err := Expand(doc, trigger)
		assert.NoError(t, err)

		// act
		included := Filter(jobs, trigger)

		// assert
		var names []string
		for _, job := range included {
			names = append(names, job.Name)
		}
		assert.Contains(t, names, "release")
		assert.NotContains(t, names, "unit-tests:stable")
	})
}

func TestInterpolate(t *testing.T) {
	vars := map[string]string{
		"CI_COMMIT_REF_NAME": "master",
		"PROJECT":            "toxcore",
	}

	assert.Equal(
		t,
		"cache-master-toxcore",
		Interpolate("cache-$CI_COMMIT_REF_NAME-${PROJECT}", vars),
	)
	assert.Equal(t, "plain", Interpolate("plain", vars))
	// unknown variables expand to the empty string
	assert.Equal(t, "x--y", Interpolate("x-$MISSING-y", vars))
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCanceled.Terminal())
	assert.True(t, StateSkipped.Terminal())
}
