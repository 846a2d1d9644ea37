// Package release sequences one release run.
//
// The Orchestrator turns a release type into an ordered list of steps and
// runs them against its collaborators (git, the rewriter, the pipeline
// API). Each step declares which of its failures are recoverable; any
// other failure ends the run, and steps already completed stay completed.
//
// Dry-run does not change the sequence. The collaborators are put in
// dry-run mode and only log their mutations, so the same steps run in the
// same order with the same derived values.
package release

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/releasectl/internal/config"
	"github.com/shinji-kodama/releasectl/internal/model"
	"github.com/shinji-kodama/releasectl/internal/pipeline"
)

// Repository is the version-control side of a release.
type Repository interface {
	CreateTag(ctx context.Context, name string) error
	CreateBranch(ctx context.Context, name string) error
	RemoteBranchExists(ctx context.Context, name string) (bool, error)
	SyncBranch(ctx context.Context, branch string) error
	CommitAndPushVersionFiles(ctx context.Context, files []string, from, to model.Version, targetRef string) error
	CommitAndPushFlagFiles(ctx context.Context, files []string, flag, branch string) error
}

// Pipelines is the pipeline API side of a release.
type Pipelines interface {
	ResolveRepositoryID(ctx context.Context) (string, error)
	RegisterPipeline(ctx context.Context, def model.PipelineDefinition) (string, error)
	TriggerRun(ctx context.Context, tag string) error
}

// Files finds and rewrites token-bearing files.
type Files interface {
	FindFiles(names []string) ([]string, error)
	RewriteVersion(paths []string, v model.Version) ([]model.FileChange, error)
	RewriteFlag(paths []string, flag string) ([]model.FileChange, error)
}

// Preflight answers read-only questions about local refs.
type Preflight interface {
	TagExists(name string) (bool, error)
	RemoteBranchExists(remote, branch string) (bool, error)
}

// Prerelease flag values written to flag files.
const (
	flagFinal      = "0"
	flagPrerelease = "1"
)

// Orchestrator runs the release sequence selected by Options.Type.
type Orchestrator struct {
	opts      model.Options
	cfg       *config.Config
	repo      Repository
	pipelines Pipelines
	files     Files
	preflight Preflight
	log       logrus.FieldLogger

	// outcome accumulates results while Run executes.
	outcome *model.Outcome
	// matched holds the files found by the last find step, for the
	// commit step that follows it.
	matched []string
	// changed records whether the last rewrite altered any file.
	changed bool
}

// New creates an Orchestrator. preflight may be nil to skip ref checks.
func New(opts model.Options, cfg *config.Config, repo Repository, pipelines Pipelines, files Files, preflight Preflight, log logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		opts:      opts,
		cfg:       cfg,
		repo:      repo,
		pipelines: pipelines,
		files:     files,
		preflight: preflight,
		log:       log,
	}
}

// Run executes every step in order and returns the outcome so far
// together with the first fatal error, if any.
//
// The returned error keeps the kind of the step's error and reads
// "release <type> failed at step <name>".
func (o *Orchestrator) Run(ctx context.Context) (*model.Outcome, error) {
	o.outcome = &model.Outcome{
		Type:    o.opts.Type,
		Version: o.opts.VersionToRelease.String(),
		DryRun:  o.opts.DryRun,
	}
	if !o.opts.NextVersion.IsZero() {
		o.outcome.NextVersion = o.opts.NextVersion.String()
	}

	if err := o.opts.Validate(); err != nil {
		return o.outcome, err
	}

	o.log.WithFields(logrus.Fields{
		"dry_run": o.opts.DryRun,
		"branch":  o.opts.VersionToRelease.BranchName(),
	}).Infof("Creating %s release %s", o.opts.Type, o.opts.VersionToRelease)

	for _, s := range o.steps() {
		if err := ctx.Err(); err != nil {
			return o.outcome, model.WrapCLIError(model.ExitGeneralError, "release cancelled", err)
		}

		entry := o.log.WithField("step", s.name)
		entry.Debug(s.description)

		detail, err := s.run(ctx)
		switch {
		case err == nil && detail.warning:
			entry.Warn(detail.text)
			o.record(s.name, model.StepWarning, detail.text)
		case err == nil:
			o.record(s.name, model.StepOK, detail.text)
		case s.recoverable != nil && s.recoverable(err):
			if status := pipeline.StatusCodeOf(err); status != 0 {
				entry = entry.WithField("status", status)
			}
			entry.WithError(err).Warn("step failed, continuing")
			o.record(s.name, model.StepWarning, err.Error())
		default:
			o.record(s.name, model.StepFailed, err.Error())
			entry.WithError(err).Error("Something went wrong")
			return o.outcome, model.WrapCLIError(model.CodeOf(err),
				fmt.Sprintf("release %s failed at step %s", o.opts.Type, s.name), err)
		}
	}

	o.log.Infof("%s release %s finished", o.opts.Type, o.opts.VersionToRelease)
	return o.outcome, nil
}

func (o *Orchestrator) record(name string, status model.StepStatus, detail string) {
	o.outcome.Steps = append(o.outcome.Steps, model.StepResult{Name: name, Status: status, Detail: detail})
}

// PlannedStep describes one step without running it.
type PlannedStep struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Recoverable is true when some failures of the step only produce a
	// warning.
	Recoverable bool `json:"recoverable"`
}

// Plan lists the steps a run with opts would execute. No collaborator is
// touched. A nil cfg plans with the defaults.
func Plan(opts model.Options, cfg *config.Config) ([]PlannedStep, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	o := &Orchestrator{opts: opts, cfg: cfg}
	steps := o.steps()
	out := make([]PlannedStep, len(steps))
	for i, s := range steps {
		out[i] = PlannedStep{Name: s.name, Description: s.description, Recoverable: s.recoverable != nil}
	}
	return out, nil
}

// joinFiles renders a file list for step details.
func joinFiles(files []string) string {
	if len(files) == 0 {
		return "no files"
	}
	return strings.Join(files, ", ")
}
