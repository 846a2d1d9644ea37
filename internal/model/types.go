package model

import (
	"fmt"
	"strings"
)

// ReleaseType identifies which release sequence to run.
//
// The sequencing only diverges between prerelease and everything else:
//
//	prerelease:  tag MAJOR.MINOR → branch VMAJOR.MINOR → bump version files
//	             → snapshot tag → register nightly pipeline
//	major/ep/cp: prerelease flag 0 → tag version → trigger release run
//	             → prerelease flag 1
//
// ep and cp are kept as distinct values only so logs can name them.
type ReleaseType string

const (
	// ReleasePrerelease cuts a new release branch from the mainline.
	ReleasePrerelease ReleaseType = "prerelease"

	// ReleaseMajor produces the final build of a release branch.
	ReleaseMajor ReleaseType = "major"

	// ReleaseEP produces an engineering patch on an existing release branch.
	ReleaseEP ReleaseType = "ep"

	// ReleaseCP produces a cumulative patch on an existing release branch.
	ReleaseCP ReleaseType = "cp"
)

// String returns the string representation of ReleaseType.
func (r ReleaseType) String() string {
	return string(r)
}

// IsValid checks whether the ReleaseType is one of the predefined values.
func (r ReleaseType) IsValid() bool {
	switch r {
	case ReleasePrerelease, ReleaseMajor, ReleaseEP, ReleaseCP:
		return true
	default:
		return false
	}
}

// IsPatch returns true for ep and cp, which share one transition.
func (r ReleaseType) IsPatch() bool {
	return r == ReleaseEP || r == ReleaseCP
}

// TriggersRun returns true if the sequence triggers a release pipeline run
// and therefore needs the pipeline run token.
func (r ReleaseType) TriggersRun() bool {
	return r == ReleaseMajor || r.IsPatch()
}

// ParseReleaseType converts a string to a ReleaseType (case-insensitive).
func ParseReleaseType(s string) (ReleaseType, error) {
	rt := ReleaseType(strings.ToLower(strings.TrimSpace(s)))
	if !rt.IsValid() {
		return "", NewCLIError(ExitInvalidInput,
			fmt.Sprintf("invalid release type: %q (valid: prerelease, major, ep, cp)", s))
	}
	return rt, nil
}

// Options are the parsed invocation parameters for one release run.
type Options struct {
	Type             ReleaseType
	VersionToRelease Version
	// NextVersion is required for prerelease and ignored otherwise.
	NextVersion Version
	DryRun      bool
}

// Validate checks cross-field requirements that single-field parsing
// cannot catch.
func (o Options) Validate() error {
	if !o.Type.IsValid() {
		return NewCLIError(ExitInvalidInput, fmt.Sprintf("invalid release type: %q", o.Type))
	}
	if o.VersionToRelease.IsZero() {
		return NewCLIError(ExitInvalidInput, "version to release is required")
	}
	if o.Type == ReleasePrerelease && o.NextVersion.IsZero() {
		return NewCLIError(ExitInvalidInput, "next version is required for a prerelease")
	}
	return nil
}

// PipelineDefinition is the payload sent to the pipelines API to create a
// YAML pipeline. It is built fresh per run and has no identity until the
// API assigns one.
type PipelineDefinition struct {
	Name          string                `json:"name"`
	Folder        string                `json:"folder"`
	Configuration PipelineConfiguration `json:"configuration"`
}

// PipelineConfiguration is the "configuration" object of a definition.
type PipelineConfiguration struct {
	// Type is always "yaml".
	Type       string             `json:"type"`
	Repository PipelineRepository `json:"repository"`
	// Path is the YAML file path inside the repository.
	Path string `json:"path"`
}

// PipelineRepository references the repository hosting the YAML file.
type PipelineRepository struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Type is always "azureReposGit".
	Type string `json:"type"`
}

// NewPipelineDefinition builds a YAML pipeline definition for the given
// repository.
func NewPipelineDefinition(name, folder, repoName, repoID, yamlPath string) PipelineDefinition {
	return PipelineDefinition{
		Name:   name,
		Folder: folder,
		Configuration: PipelineConfiguration{
			Type: "yaml",
			Repository: PipelineRepository{
				ID:   repoID,
				Name: repoName,
				Type: "azureReposGit",
			},
			Path: yamlPath,
		},
	}
}

// StepStatus is the result state of one orchestrated step.
type StepStatus string

const (
	// StepOK means the step ran (or was emulated in dry-run) without error.
	StepOK StepStatus = "ok"

	// StepWarning means the step failed but the failure is recoverable;
	// the sequence continued.
	StepWarning StepStatus = "warning"

	// StepFailed means the step failed fatally and ended the sequence.
	StepFailed StepStatus = "failed"
)

// String returns the string representation of StepStatus.
func (s StepStatus) String() string {
	return string(s)
}

// StepResult records one executed step.
type StepResult struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// FileChange records the substitutions applied (or previewed) on one file.
type FileChange struct {
	Path string `json:"path"`
	// Replaced maps token name to the number of matches replaced.
	Replaced map[string]int `json:"replaced"`
	// Missing lists token names whose pattern was not found.
	Missing []string `json:"missing,omitempty"`
	// Changed reports that the new content differs from the old one. It
	// is computed identically in dry-run and live mode.
	Changed bool `json:"changed"`
	// Written is true only when Changed and the file was actually saved.
	Written bool `json:"written"`
}

// AnyChanged reports whether at least one change alters its file.
func AnyChanged(changes []FileChange) bool {
	for _, c := range changes {
		if c.Changed {
			return true
		}
	}
	return false
}

// Outcome is the record of one release run, in execution order.
type Outcome struct {
	Type         ReleaseType  `json:"releaseType"`
	Version      string       `json:"version"`
	NextVersion  string       `json:"nextVersion,omitempty"`
	DryRun       bool         `json:"dryRun"`
	RepositoryID string       `json:"repositoryId,omitempty"`
	PipelineID   string       `json:"pipelineId,omitempty"`
	Steps        []StepResult `json:"steps"`
	Files        []FileChange `json:"files,omitempty"`
}

// PipelineRegistered reports whether a pipeline id was obtained.
func (o *Outcome) PipelineRegistered() bool {
	return o.PipelineID != ""
}

// Warnings returns the steps that completed with a recoverable failure.
func (o *Outcome) Warnings() []StepResult {
	var out []StepResult
	for _, s := range o.Steps {
		if s.Status == StepWarning {
			out = append(out, s)
		}
	}
	return out
}
