package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/releasectl/internal/model"
)

// ErrTokenNotFound is wrapped by the strict-mode error returned when a
// token matched in none of the rewritten files.
var ErrTokenNotFound = errors.New("token not found")

// Rewriter finds and rewrites token-bearing files under the root of fs.
type Rewriter struct {
	fs      billy.Filesystem
	log     logrus.FieldLogger
	preview map[string][]byte

	// DryRun computes new contents and match counts without writing.
	// Previewed contents are kept in memory and read back by later
	// rewrites, so a sequence of dry-run edits sees its own results.
	DryRun bool

	// Strict turns "token matched in no file" from a warning into an error.
	Strict bool
}

// New creates a Rewriter over fs, which must be rooted at the repository
// top level.
func New(fs billy.Filesystem, log logrus.FieldLogger) *Rewriter {
	return &Rewriter{fs: fs, log: log, preview: make(map[string][]byte)}
}

// FindFiles walks the whole tree and returns, sorted by path, every file
// whose base name exactly equals one of names. The .git directory is not
// descended into.
func (r *Rewriter) FindFiles(names []string) ([]string, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var matched []string
	err := util.Walk(r.fs, ".", func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() && want[info.Name()] {
			matched = append(matched, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitIOError, "failed to search for version files", err)
	}

	sort.Strings(matched)
	return matched, nil
}

// RewriteVersion moves the version tokens of every file in paths to v.
func (r *Rewriter) RewriteVersion(paths []string, v model.Version) ([]model.FileChange, error) {
	return r.rewriteAll(paths, VersionSubstitutions(v))
}

// RewriteFlag sets the prerelease flag of every file in paths to flag.
func (r *Rewriter) RewriteFlag(paths []string, flag string) ([]model.FileChange, error) {
	subs, err := FlagSubstitutions(flag)
	if err != nil {
		return nil, err
	}
	return r.rewriteAll(paths, subs)
}

// rewriteAll applies subs to each file and then checks, per token, that
// at least one file contained it.
func (r *Rewriter) rewriteAll(paths []string, subs []Substitution) ([]model.FileChange, error) {
	changes := make([]model.FileChange, 0, len(paths))
	total := make(map[string]int, len(subs))

	for _, p := range paths {
		change, err := r.rewriteFile(p, subs)
		if err != nil {
			return changes, err
		}
		for name, n := range change.Replaced {
			total[name] += n
		}
		changes = append(changes, change)
	}

	var absent []string
	for _, s := range subs {
		if total[s.Name] == 0 {
			absent = append(absent, s.Name)
		}
	}
	if len(absent) > 0 {
		msg := fmt.Sprintf("token(s) %s not found in any of %d file(s)", strings.Join(absent, ", "), len(paths))
		if r.Strict {
			return changes, model.WrapCLIError(model.ExitIOError, msg, ErrTokenNotFound)
		}
		r.log.Warn(msg)
	}
	return changes, nil
}

// rewriteFile applies subs to a single existing file. The file is written
// back with its original permissions, and only if the content changed and
// this is not a dry run.
func (r *Rewriter) rewriteFile(path string, subs []Substitution) (model.FileChange, error) {
	change := model.FileChange{Path: path}

	info, err := r.fs.Stat(path)
	if err != nil {
		return change, model.WrapCLIError(model.ExitIOError, fmt.Sprintf("failed to stat %s", path), err)
	}
	content, err := r.read(path)
	if err != nil {
		return change, model.WrapCLIError(model.ExitIOError, fmt.Sprintf("failed to read %s", path), err)
	}

	updated, replaced, missing := Apply(content, subs)
	change.Replaced = replaced
	change.Missing = missing

	for _, name := range missing {
		r.log.WithField("file", path).Debugf("token %s not present", name)
	}

	if bytes.Equal(updated, content) {
		r.log.WithField("file", path).Debug("content already current")
		return change, nil
	}
	change.Changed = true

	if r.DryRun {
		r.preview[path] = updated
		r.log.WithField("file", path).Infof("Dry Run - would rewrite %s", describe(replaced))
		return change, nil
	}

	if err := util.WriteFile(r.fs, path, updated, info.Mode().Perm()); err != nil {
		return change, model.WrapCLIError(model.ExitIOError, fmt.Sprintf("failed to write %s", path), err)
	}
	change.Written = true
	r.log.WithField("file", path).Infof("rewrote %s", describe(replaced))
	return change, nil
}

// read returns the previewed content of path when a dry run already
// rewrote it, and the file content otherwise.
func (r *Rewriter) read(path string) ([]byte, error) {
	if content, ok := r.preview[path]; ok {
		return content, nil
	}
	return util.ReadFile(r.fs, path)
}

// describe renders match counts as "a=1 b=2" in name order.
func describe(replaced map[string]int) string {
	names := make([]string, 0, len(replaced))
	for name, n := range replaced {
		if n > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, replaced[name])
	}
	return strings.Join(parts, " ")
}
