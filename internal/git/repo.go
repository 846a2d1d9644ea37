package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/releasectl/internal/model"
)

// shortRevisionLength is how many characters of the head revision are used
// when tagging and branching.
const shortRevisionLength = 10

// Repo performs the release operations against one checkout.
//
// Read-only commands (rev-parse, ls-remote) run in both modes so that a
// dry run resolves the same revisions a live run would. Commands that
// change local or remote state are replaced by a "Dry Run - " log line
// when DryRun is set.
type Repo struct {
	runner Runner
	log    logrus.FieldLogger

	// Remote is the name of the remote every push goes to.
	Remote string

	// DryRun suppresses every mutating command.
	DryRun bool
}

// NewRepo creates a Repo that runs commands through runner and pushes to
// remote.
func NewRepo(runner Runner, remote string, log logrus.FieldLogger) *Repo {
	return &Repo{runner: runner, log: log, Remote: remote}
}

// HeadRevision resolves HEAD and returns its 10-character prefix.
func (r *Repo) HeadRevision(ctx context.Context) (string, error) {
	rev, err := r.runner.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	rev = strings.TrimSpace(rev)
	if len(rev) < shortRevisionLength {
		return "", model.NewCLIError(model.ExitGitError,
			fmt.Sprintf("unexpected revision %q from git rev-parse HEAD", rev))
	}
	return rev[:shortRevisionLength], nil
}

// CreateTag tags the current head revision as name and pushes the tag.
//
// The tag is lightweight and points at the shortened revision, which git
// resolves back to the full commit.
func (r *Repo) CreateTag(ctx context.Context, name string) error {
	head, err := r.HeadRevision(ctx)
	if err != nil {
		return err
	}

	if r.DryRun {
		r.log.Infof("Dry Run - Running git tag %s %s", name, head)
		r.log.Infof("Dry Run - Running git push %s %s", r.Remote, name)
		return nil
	}

	if _, err := r.runner.Run(ctx, "tag", name, head); err != nil {
		return err
	}
	if _, err := r.runner.Run(ctx, "push", r.Remote, name); err != nil {
		return err
	}
	r.log.Infof("created new tag %s", name)
	return nil
}

// CreateBranch publishes the current head revision as a new remote branch.
//
// The checkout is left detached at that revision, which is where the
// following version-file commit is made. A branch that already exists on
// the remote is refused: pushing the same commit to it would otherwise
// succeed silently.
func (r *Repo) CreateBranch(ctx context.Context, name string) error {
	head, err := r.HeadRevision(ctx)
	if err != nil {
		return err
	}

	exists, err := r.RemoteBranchExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return model.NewCLIError(model.ExitGitError,
			fmt.Sprintf("branch %s already exists on %s", name, r.Remote))
	}

	if r.DryRun {
		r.log.Infof("Dry Run - Creating Branch %s from %s", name, head)
		return nil
	}

	if _, err := r.runner.Run(ctx, "checkout", head); err != nil {
		return err
	}
	if _, err := r.runner.Run(ctx, "push", r.Remote, "HEAD:refs/heads/"+name); err != nil {
		return err
	}
	r.log.Infof("created new branch %s", name)
	return nil
}

// RemoteBranchExists asks the remote whether refs/heads/name exists.
//
// `git ls-remote --exit-code` exits with status 2 when no ref matched; any
// other failure (unreachable remote, bad credentials) is returned as is.
func (r *Repo) RemoteBranchExists(ctx context.Context, name string) (bool, error) {
	_, err := r.runner.Run(ctx, "ls-remote", "--exit-code", "--heads", r.Remote, "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	if cmdErr := commandError(err); cmdErr != nil && cmdErr.ExitCode == 2 {
		return false, nil
	}
	return false, err
}

// SyncBranch checks out branch and pulls it from the remote so that flag
// edits start from the latest remote state.
func (r *Repo) SyncBranch(ctx context.Context, branch string) error {
	if r.DryRun {
		r.log.Infof("Dry Run - Running git checkout %s", branch)
		r.log.Infof("Dry Run - Running git pull %s %s", r.Remote, branch)
		return nil
	}

	if _, err := r.runner.Run(ctx, "checkout", branch); err != nil {
		return err
	}
	_, err := r.runner.Run(ctx, "pull", r.Remote, branch)
	return err
}

// CommitAndPushVersionFiles stages files, commits the version transition
// and pushes it to targetRef, which is the integration branch rather than
// the release branch just created.
func (r *Repo) CommitAndPushVersionFiles(ctx context.Context, files []string, from, to model.Version, targetRef string) error {
	message := fmt.Sprintf("Updating version from %s to %s", from, to)
	if r.DryRun {
		r.log.Infof("Dry Run - Pushing version changes (%s) to %s", message, targetRef)
		return nil
	}
	return r.commitAndPush(ctx, files, message, "HEAD:refs/heads/"+targetRef)
}

// CommitAndPushFlagFiles stages files, commits the new prerelease flag and
// pushes it to branch.
func (r *Repo) CommitAndPushFlagFiles(ctx context.Context, files []string, flag, branch string) error {
	message := fmt.Sprintf("Updating prerelease flag to %s", flag)
	if r.DryRun {
		r.log.Infof("Dry Run - Updating prerelease flag to %s on %s", flag, branch)
		return nil
	}
	return r.commitAndPush(ctx, files, message, "HEAD:"+branch)
}

// commitAndPush runs add for each file, then commit and push. It stops at
// the first failing command.
func (r *Repo) commitAndPush(ctx context.Context, files []string, message, refspec string) error {
	if len(files) == 0 {
		return model.NewCLIError(model.ExitGitError, "no files to commit")
	}
	for _, f := range files {
		if _, err := r.runner.Run(ctx, "add", f); err != nil {
			return err
		}
	}
	if _, err := r.runner.Run(ctx, "commit", "-m", message); err != nil {
		return err
	}
	_, err := r.runner.Run(ctx, "push", r.Remote, refspec)
	return err
}
