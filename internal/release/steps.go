package release

import (
	"context"
	"fmt"
	"strings"

	"github.com/shinji-kodama/releasectl/internal/model"
)

// step is one unit of the release sequence.
type step struct {
	name        string
	description string
	run         func(ctx context.Context) (stepDetail, error)
	// recoverable, when set, reports whether err should be downgraded to
	// a warning. A nil func makes every error fatal.
	recoverable func(err error) bool
}

// stepDetail is what a successful step reports. warning marks a step that
// completed but skipped part of its work.
type stepDetail struct {
	text    string
	warning bool
}

func done(format string, args ...any) (stepDetail, error) {
	return stepDetail{text: fmt.Sprintf(format, args...)}, nil
}

// Step names, as they appear in logs and in the outcome.
const (
	StepResolveRepository = "resolve-repository-id"
	StepPreflight         = "preflight"
	StepTagMajor          = "tag-major"
	StepCreateBranch      = "create-branch"
	StepRewriteVersion    = "rewrite-version-files"
	StepPushVersion       = "push-version-files"
	StepTagSnapshot       = "tag-snapshot"
	StepRegisterPipeline  = "register-pipeline"
	StepTagRelease        = "tag-release"
	StepTriggerRun        = "trigger-release-build"
)

// steps returns the sequence for the configured release type: the shared
// lookup and preflight, then either the prerelease or the patch transition.
func (o *Orchestrator) steps() []step {
	steps := []step{
		{
			name:        StepResolveRepository,
			description: fmt.Sprintf("look up the id of repository %s", o.cfg.API.RepoName),
			run:         o.resolveRepository,
		},
		{
			name:        StepPreflight,
			description: "check that no tag or branch to be created already exists",
			run:         o.checkRefs,
		},
	}

	if o.opts.Type == model.ReleasePrerelease {
		return append(steps, o.prereleaseSteps()...)
	}
	return append(steps, o.patchSteps()...)
}

// prereleaseSteps cuts the release branch and opens the next version:
//
//	tag MAJOR.MINOR → branch VMAJOR.MINOR → version files → snapshot tag
//	→ nightly pipeline
func (o *Orchestrator) prereleaseSteps() []step {
	v := o.opts.VersionToRelease
	next := o.opts.NextVersion
	integration := o.cfg.Git.IntegrationBranch

	return []step{
		{
			name:        StepTagMajor,
			description: fmt.Sprintf("tag HEAD as %s", v.MajorVersion()),
			run: func(ctx context.Context) (stepDetail, error) {
				if err := o.repo.CreateTag(ctx, v.MajorVersion()); err != nil {
					return stepDetail{}, err
				}
				return done("tagged %s", v.MajorVersion())
			},
		},
		{
			name:        StepCreateBranch,
			description: fmt.Sprintf("push HEAD as branch %s", v.BranchName()),
			run: func(ctx context.Context) (stepDetail, error) {
				if err := o.repo.CreateBranch(ctx, v.BranchName()); err != nil {
					return stepDetail{}, err
				}
				return done("created branch %s", v.BranchName())
			},
		},
		{
			name:        StepRewriteVersion,
			description: fmt.Sprintf("set version tokens in %s to %s", strings.Join(o.cfg.Git.VersionFiles, ", "), next),
			run: func(context.Context) (stepDetail, error) {
				return o.rewrite(o.cfg.Git.VersionFiles, func(paths []string) ([]model.FileChange, error) {
					return o.files.RewriteVersion(paths, next)
				})
			},
		},
		{
			name:        StepPushVersion,
			description: fmt.Sprintf("commit version files and push to %s", integration),
			run: func(ctx context.Context) (stepDetail, error) {
				if !o.changed {
					return stepDetail{text: "no version file changed, nothing to commit", warning: true}, nil
				}
				if err := o.repo.CommitAndPushVersionFiles(ctx, o.matched, v, next, integration); err != nil {
					return stepDetail{}, err
				}
				return done("pushed %s to %s", joinFiles(o.matched), integration)
			},
		},
		{
			name:        StepTagSnapshot,
			description: fmt.Sprintf("tag HEAD as %s", next.SnapshotTag()),
			run: func(ctx context.Context) (stepDetail, error) {
				if err := o.repo.CreateTag(ctx, next.SnapshotTag()); err != nil {
					return stepDetail{}, err
				}
				return done("tagged %s", next.SnapshotTag())
			},
		},
		{
			name:        StepRegisterPipeline,
			description: fmt.Sprintf("create nightly pipeline %s", o.cfg.PipelineName(v.MajorVersion())),
			run:         o.registerPipeline,
			// Registration failures never end the run.
			recoverable: func(error) bool { return true },
		},
	}
}

// patchSteps builds a final or patch release on the existing branch:
//
//	flag 0 → tag version → trigger release build → flag 1
//
// major, ep and cp share this transition; the type only appears in logs.
func (o *Orchestrator) patchSteps() []step {
	v := o.opts.VersionToRelease

	steps := o.flagSteps(flagFinal)
	steps = append(steps,
		step{
			name:        StepTagRelease,
			description: fmt.Sprintf("tag HEAD as %s", v),
			run: func(ctx context.Context) (stepDetail, error) {
				if err := o.repo.CreateTag(ctx, v.String()); err != nil {
					return stepDetail{}, err
				}
				return done("tagged %s", v)
			},
		},
		step{
			name:        StepTriggerRun,
			description: fmt.Sprintf("run release pipeline %s on refs/tags/%s", o.cfg.API.PipelineID, v),
			run: func(ctx context.Context) (stepDetail, error) {
				if err := o.pipelines.TriggerRun(ctx, v.String()); err != nil {
					return stepDetail{}, err
				}
				return done("triggered release build for %s", v)
			},
			// Only a rejected run is recoverable; transport errors are fatal.
			recoverable: func(err error) bool { return model.CodeOf(err) == model.ExitAPIError },
		},
	)
	return append(steps, o.flagSteps(flagPrerelease)...)
}

// flagSteps syncs the release branch, sets the prerelease flag and pushes
// it back to the release branch.
func (o *Orchestrator) flagSteps(flag string) []step {
	branch := o.opts.VersionToRelease.BranchName()

	return []step{
		{
			name:        "sync-branch-flag-" + flag,
			description: fmt.Sprintf("check out and pull %s", branch),
			run: func(ctx context.Context) (stepDetail, error) {
				if err := o.repo.SyncBranch(ctx, branch); err != nil {
					return stepDetail{}, err
				}
				return done("synced %s", branch)
			},
		},
		{
			name:        "rewrite-flag-" + flag,
			description: fmt.Sprintf("set the prerelease flag in %s to %s", strings.Join(o.cfg.Git.FlagFiles, ", "), flag),
			run: func(context.Context) (stepDetail, error) {
				return o.rewrite(o.cfg.Git.FlagFiles, func(paths []string) ([]model.FileChange, error) {
					return o.files.RewriteFlag(paths, flag)
				})
			},
		},
		{
			name:        "push-flag-" + flag,
			description: fmt.Sprintf("commit flag files and push to %s", branch),
			run: func(ctx context.Context) (stepDetail, error) {
				if !o.changed {
					return stepDetail{text: fmt.Sprintf("prerelease flag already %s, nothing to commit", flag), warning: true}, nil
				}
				if err := o.repo.CommitAndPushFlagFiles(ctx, o.matched, flag, branch); err != nil {
					return stepDetail{}, err
				}
				return done("pushed %s to %s", joinFiles(o.matched), branch)
			},
		},
	}
}

func (o *Orchestrator) resolveRepository(ctx context.Context) (stepDetail, error) {
	id, err := o.pipelines.ResolveRepositoryID(ctx)
	if err != nil {
		return stepDetail{}, err
	}
	o.outcome.RepositoryID = id
	return done("repository id %s", id)
}

// checkRefs fails before any mutation when a tag this run would create
// already exists locally, or, for a prerelease, when the release branch
// already exists on the remote.
func (o *Orchestrator) checkRefs(ctx context.Context) (stepDetail, error) {
	v := o.opts.VersionToRelease
	tags := []string{v.String()}
	if o.opts.Type == model.ReleasePrerelease {
		tags = []string{v.MajorVersion(), o.opts.NextVersion.SnapshotTag()}
		if err := o.checkReleaseBranchFree(ctx, v.BranchName()); err != nil {
			return stepDetail{}, err
		}
	}

	if o.preflight == nil {
		return done("local tags not checked")
	}
	for _, tag := range tags {
		exists, err := o.preflight.TagExists(tag)
		if err != nil {
			return stepDetail{}, err
		}
		if exists {
			return stepDetail{}, model.NewCLIError(model.ExitGitError, fmt.Sprintf("tag %s already exists", tag))
		}
	}
	return done("tags %s are free", strings.Join(tags, ", "))
}

// checkReleaseBranchFree looks at the remote-tracking ref first and then
// asks the remote itself, since the tracking ref is only as fresh as the
// last fetch.
func (o *Orchestrator) checkReleaseBranchFree(ctx context.Context, branch string) error {
	remote := o.cfg.Git.Remote

	var exists bool
	if o.preflight != nil {
		var err error
		if exists, err = o.preflight.RemoteBranchExists(remote, branch); err != nil {
			return err
		}
	}
	if !exists {
		var err error
		if exists, err = o.repo.RemoteBranchExists(ctx, branch); err != nil {
			return err
		}
	}
	if exists {
		return model.NewCLIError(model.ExitGitError, fmt.Sprintf("branch %s already exists on %s", branch, remote))
	}
	return nil
}

// rewrite finds files by name and applies fn to them, recording the
// changes for the outcome and the commit step that follows.
func (o *Orchestrator) rewrite(names []string, fn func(paths []string) ([]model.FileChange, error)) (stepDetail, error) {
	matched, err := o.files.FindFiles(names)
	if err != nil {
		return stepDetail{}, err
	}
	o.matched = matched
	o.changed = false

	if len(matched) == 0 {
		return stepDetail{text: fmt.Sprintf("no file named %s found", strings.Join(names, " or ")), warning: true}, nil
	}

	changes, err := fn(matched)
	o.outcome.Files = append(o.outcome.Files, changes...)
	if err != nil {
		return stepDetail{}, err
	}
	o.changed = model.AnyChanged(changes)

	var n int
	for _, c := range changes {
		if c.Changed {
			n++
		}
	}
	return done("%d of %d file(s) changed", n, len(matched))
}

func (o *Orchestrator) registerPipeline(ctx context.Context) (stepDetail, error) {
	def := model.NewPipelineDefinition(
		o.cfg.PipelineName(o.opts.VersionToRelease.MajorVersion()),
		o.cfg.Pipeline.Folder,
		o.cfg.API.RepoName,
		o.outcome.RepositoryID,
		o.cfg.Pipeline.YAMLPath,
	)

	id, err := o.pipelines.RegisterPipeline(ctx, def)
	if err != nil {
		return stepDetail{}, err
	}
	o.outcome.PipelineID = id
	if id == "" {
		return done("pipeline %s not created (dry run)", def.Name)
	}
	return done("pipeline %s created with id %s", def.Name, id)
}
