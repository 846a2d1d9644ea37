// Package cli — release_test.go runs the root and plan commands end to
// end against a throwaway repository and a stub pipeline API.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/releasectl/internal/model"
	"github.com/shinji-kodama/releasectl/internal/release"
)

const (
	branchProperties = "versionmajor=15.0\nmore_prerelease=1\n"
	releaseHeader    = "static const long version_ = 1500000;\nstatic const char *cVersion_={\"V15.0\"};\n"
)

// setupTestRepo creates a repository with version files committed on main
// and pushed to a bare "origin".
func setupTestRepo(t *testing.T) (string, string) {
	t.Helper()

	origin := filepath.Join(t.TempDir(), "origin.git")
	runTestGit(t, "", "init", "--bare", origin)

	dir := t.TempDir()
	runTestGit(t, dir, "init")
	runTestGit(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	runTestGit(t, dir, "config", "user.email", "test@example.com")
	runTestGit(t, dir, "config", "user.name", "Test User")
	runTestGit(t, dir, "config", "commit.gpgsign", "false")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "branch.properties"), []byte(branchProperties), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "mRelease.h"), []byte(releaseHeader), 0o644))

	runTestGit(t, dir, "add", ".")
	runTestGit(t, dir, "commit", "-m", "initial commit")
	runTestGit(t, dir, "remote", "add", "origin", origin)
	runTestGit(t, dir, "push", "origin", "main")

	return dir, origin
}

// runTestGit runs git in dir (or without -C when dir is empty) and fails
// the test on a non-zero exit.
func runTestGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	output, err := exec.Command("git", args...).CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, string(output))
	return strings.TrimSpace(string(output))
}

// stubAPI answers repository lookups and counts POST requests.
type stubAPI struct {
	posts atomic.Int32
}

func (s *stubAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.posts.Add(1)
	}
	if strings.HasSuffix(r.URL.Path, "/_apis/git/repositories/more") {
		_, _ = io.WriteString(w, `{"id":"repo-guid"}`)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// writeConfig writes an INI config pointing at apiURL. extra lines are
// appended to the [API] section.
func writeConfig(t *testing.T, apiURL string, extra ...string) string {
	t.Helper()
	content := fmt.Sprintf(`[API]
organization_url = %s
project_name = proj
personal_access_token = pat
api_version = 7.1
repo_name = more
%s
`, apiURL, strings.Join(extra, "\n"))

	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// executeRoot runs the root command with args and returns stdout, stderr
// and the error.
func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// TestRelease_DryRunPrerelease runs the whole prerelease in dry-run from a
// subdirectory of the checkout and checks nothing was changed anywhere.
func TestRelease_DryRunPrerelease(t *testing.T) {
	dir, origin := setupTestRepo(t)
	api := &stubAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfgPath := writeConfig(t, srv.URL)

	chdirTest(t, filepath.Join(dir, "src"))
	headBefore := runTestGit(t, dir, "rev-parse", "HEAD")

	stdout, stderr, err := executeRoot(t,
		"--dry-run", "--json", "-c", cfgPath,
		"--release_type", "prerelease",
		"--version_to_release", "15.0.0.0",
		"--next_version", "15.1.0.0",
	)
	require.NoError(t, err, stderr)

	var outcome model.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &outcome))
	assert.True(t, outcome.DryRun)
	assert.Equal(t, "repo-guid", outcome.RepositoryID)
	assert.Empty(t, outcome.Warnings())
	assert.Len(t, outcome.Steps, 8)
	require.Len(t, outcome.Files, 2)
	assert.Equal(t, "branch.properties", outcome.Files[0].Path)
	assert.Equal(t, "src/mRelease.h", outcome.Files[1].Path)

	// Nothing reached the remote, the API or the working tree.
	assert.Zero(t, api.posts.Load())
	assert.Empty(t, runTestGit(t, origin, "tag", "--list"))
	assert.Equal(t, "refs/heads/main", runTestGit(t, origin, "for-each-ref", "--format=%(refname)", "refs/heads"))
	assert.Equal(t, headBefore, runTestGit(t, dir, "rev-parse", "HEAD"))
	assert.Empty(t, runTestGit(t, dir, "status", "--porcelain"))

	assert.Contains(t, stderr, "Dry Run - Creating Branch V15.0")
}

func TestRelease_TextOutput(t *testing.T) {
	dir, _ := setupTestRepo(t)
	srv := httptest.NewServer(&stubAPI{})
	t.Cleanup(srv.Close)
	cfgPath := writeConfig(t, srv.URL, "pipeline_id = 979", "pipeline_token = run")

	chdirTest(t, dir)
	stdout, stderr, err := executeRoot(t,
		"-n", "-c", cfgPath,
		"--release_type", "cp",
		"--version_to_release", "15.0.1.0",
	)
	require.NoError(t, err, stderr)

	assert.True(t, strings.HasPrefix(stdout, "Release cp 15.0.1.0 (dry run)\n"))
	assert.Contains(t, stdout, release.StepTriggerRun)
	assert.Contains(t, stdout, "branch.properties")
	assert.Contains(t, stdout, "more_prerelease=1")
}

// TestRelease_RepositoryNotFound checks the lookup failure ends the run
// with the API exit code before any tag exists.
func TestRelease_RepositoryNotFound(t *testing.T) {
	dir, origin := setupTestRepo(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	cfgPath := writeConfig(t, srv.URL, "pipeline_id = 979", "pipeline_token = run")

	chdirTest(t, dir)
	_, _, err := executeRoot(t,
		"-c", cfgPath,
		"--release_type", "major",
		"--version_to_release", "15.0.0.0",
	)
	require.Error(t, err)
	assert.Equal(t, model.ExitAPIError, model.CodeOf(err))
	assert.Empty(t, runTestGit(t, origin, "tag", "--list"))
	assert.Empty(t, runTestGit(t, dir, "tag", "--list"))
}

func TestRelease_InputErrors(t *testing.T) {
	srv := httptest.NewServer(&stubAPI{})
	t.Cleanup(srv.Close)
	cfgPath := writeConfig(t, srv.URL)

	tests := []struct {
		name     string
		args     []string
		wantCode model.ExitCode
		wantMsg  string
	}{
		{
			name:     "unknown release type",
			args:     []string{"--release_type", "hotfix", "--version_to_release", "15.0.0.0"},
			wantCode: model.ExitInvalidInput,
			wantMsg:  "invalid release type",
		},
		{
			name:     "three component version",
			args:     []string{"--release_type", "major", "--version_to_release", "15.0.0"},
			wantCode: model.ExitInvalidInput,
		},
		{
			name:     "missing version",
			args:     []string{"--release_type", "major"},
			wantCode: model.ExitInvalidInput,
			wantMsg:  "--version_to_release is required",
		},
		{
			name:     "prerelease without next version",
			args:     []string{"--release_type", "prerelease", "--version_to_release", "15.0.0.0"},
			wantCode: model.ExitInvalidInput,
			wantMsg:  "next version is required",
		},
		{
			name:     "run token missing",
			args:     []string{"--release_type", "major", "--version_to_release", "15.0.0.0"},
			wantCode: model.ExitConfigError,
			wantMsg:  "API.pipeline_token",
		},
		{
			name:     "config file missing",
			args:     []string{"--release_type", "ep", "--version_to_release", "15.0.0.1", "-c", "does-not-exist.ini"},
			wantCode: model.ExitConfigError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-c", cfgPath}, tt.args...)
			_, _, err := executeRoot(t, args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, model.CodeOf(err))
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestRelease_NotARepository(t *testing.T) {
	srv := httptest.NewServer(&stubAPI{})
	t.Cleanup(srv.Close)
	cfgPath := writeConfig(t, srv.URL)

	chdirTest(t, t.TempDir())
	_, _, err := executeRoot(t, "-n", "-c", cfgPath,
		"--release_type", "prerelease", "--version_to_release", "15.0.0.0", "--next_version", "15.1.0.0")
	require.Error(t, err)
	assert.Equal(t, model.ExitGitError, model.CodeOf(err))
}

func TestPlanCommand(t *testing.T) {
	stdout, _, err := executeRoot(t, "plan",
		"-c", filepath.Join(t.TempDir(), "absent.ini"),
		"--release_type", "prerelease",
		"--version_to_release", "15.0.0.0",
		"--next_version", "15.1.0.0",
	)
	require.NoError(t, err)

	assert.Contains(t, stdout, "branch         V15.0")
	assert.Contains(t, stdout, "license code   1500000")
	assert.Contains(t, stdout, `log token      {"V15.1"}`)
	assert.Contains(t, stdout, "snapshot tag   15.1.0.0-snapshot")
	assert.Contains(t, stdout, " 1. resolve-repository-id")
	assert.Contains(t, stdout, "register-pipeline")
	assert.Contains(t, stdout, "(may warn)")
}

func TestPlanCommand_JSON(t *testing.T) {
	stdout, _, err := executeRoot(t, "plan", "--json",
		"-c", filepath.Join(t.TempDir(), "absent.ini"),
		"--release_type", "EP",
		"--version_to_release", "15.0.0.1",
	)
	require.NoError(t, err)

	var plan planJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	assert.Equal(t, model.ReleaseEP, plan.ReleaseType)
	assert.Equal(t, "1500100", plan.VersionToRelease.LicenseCode)
	assert.Nil(t, plan.NextVersion)
	assert.Len(t, plan.Steps, 10)
}

// TestRelease_UnbornHead stops a run in a repository without commits
// before the API is called.
func TestRelease_UnbornHead(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	t.Cleanup(srv.Close)
	cfgPath := writeConfig(t, srv.URL)

	dir := t.TempDir()
	runTestGit(t, dir, "init")
	chdirTest(t, dir)

	_, _, err := executeRoot(t, "-n", "-c", cfgPath,
		"--release_type", "prerelease", "--version_to_release", "15.0.0.0", "--next_version", "15.1.0.0")
	require.Error(t, err)
	assert.Equal(t, model.ExitGitError, model.CodeOf(err))
	assert.Contains(t, err.Error(), "failed to resolve HEAD")
	assert.Zero(t, requests.Load())
}

func TestFormatOutcomeText(t *testing.T) {
	tests := []struct {
		name    string
		outcome model.Outcome
		want    []string
		notWant []string
	}{
		{
			name: "prerelease with pipeline",
			outcome: model.Outcome{
				Type: model.ReleasePrerelease, Version: "15.0.0.0", NextVersion: "15.1.0.0", PipelineID: "42",
				Steps: []model.StepResult{{Name: release.StepRegisterPipeline, Status: model.StepOK, Detail: "created"}},
			},
			want: []string{"Release prerelease 15.0.0.0 -> 15.1.0.0\n", "Pipeline 42\n", "register-pipeline"},
		},
		{
			name: "prerelease in dry run",
			outcome: model.Outcome{
				Type: model.ReleasePrerelease, Version: "15.0.0.0", NextVersion: "15.1.0.0", DryRun: true,
			},
			want: []string{"(dry run)\n", "Pipeline not registered\n"},
		},
		{
			name: "patch has no pipeline line",
			outcome: model.Outcome{
				Type: model.ReleaseEP, Version: "15.0.0.1",
				Files: []model.FileChange{{Path: "branch.properties", Replaced: map[string]int{"more_prerelease": 1}, Changed: true, Written: true}},
			},
			want:    []string{"Release ep 15.0.0.1\n", "FILES\n", "written", "more_prerelease=1"},
			notWant: []string{"Pipeline"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatOutcomeText(&tt.outcome)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, got, w)
			}
		})
	}
}

func TestFormatReplaced(t *testing.T) {
	tests := []struct {
		name     string
		replaced map[string]int
		want     string
	}{
		{name: "empty", replaced: map[string]int{}, want: "-"},
		{name: "nil", replaced: nil, want: "-"},
		{name: "zero counts only", replaced: map[string]int{"version_": 0}, want: "-"},
		{name: "sorted", replaced: map[string]int{"versionmajor": 1, "cVersion_": 2, "version_": 0}, want: "cVersion_=2 versionmajor=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatReplaced(tt.replaced))
		})
	}
}

// chdirTest changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdirTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
