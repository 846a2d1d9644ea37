package git

import (
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/shinji-kodama/releasectl/internal/model"
)

// Inspector reads repository state through go-git without touching the
// working tree, the index or any remote.
type Inspector struct {
	repo *gogit.Repository
	fs   billy.Filesystem
}

// OpenInspector opens the repository containing path. Parent directories
// are searched for .git, so path may be any directory inside the checkout.
func OpenInspector(path string) (*Inspector, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, model.WrapCLIError(model.ExitGitError,
				fmt.Sprintf("%s is not inside a git repository", path), err)
		}
		return nil, model.WrapCLIError(model.ExitGitError, "failed to open repository", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no worktree and cannot hold version files.
		return nil, model.WrapCLIError(model.ExitGitError, "repository has no working tree", err)
	}

	return &Inspector{repo: repo, fs: wt.Filesystem}, nil
}

// Root returns the absolute path of the working tree top level.
func (i *Inspector) Root() string {
	return i.fs.Root()
}

// Filesystem returns the working tree rooted at Root.
func (i *Inspector) Filesystem() billy.Filesystem {
	return i.fs
}

// Head returns the full hash HEAD currently resolves to.
func (i *Inspector) Head() (string, error) {
	ref, err := i.repo.Head()
	if err != nil {
		return "", model.WrapCLIError(model.ExitGitError, "failed to resolve HEAD", err)
	}
	return ref.Hash().String(), nil
}

// TagExists reports whether refs/tags/name exists locally.
func (i *Inspector) TagExists(name string) (bool, error) {
	return i.refExists(plumbing.NewTagReferenceName(name))
}

// RemoteBranchExists reports whether the remote-tracking ref
// refs/remotes/remote/branch exists locally. It reflects the last fetch,
// not the live remote.
func (i *Inspector) RemoteBranchExists(remote, branch string) (bool, error) {
	return i.refExists(plumbing.NewRemoteReferenceName(remote, branch))
}

func (i *Inspector) refExists(name plumbing.ReferenceName) (bool, error) {
	_, err := i.repo.Reference(name, false)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	return false, model.WrapCLIError(model.ExitGitError, fmt.Sprintf("failed to read %s", name), err)
}
