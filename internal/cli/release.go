// Package cli — release.go wires the collaborators of a release run and
// prints its outcome.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/releasectl/internal/config"
	"github.com/shinji-kodama/releasectl/internal/git"
	"github.com/shinji-kodama/releasectl/internal/model"
	"github.com/shinji-kodama/releasectl/internal/pipeline"
	"github.com/shinji-kodama/releasectl/internal/release"
	"github.com/shinji-kodama/releasectl/internal/rewrite"
)

// apiTimeout bounds every pipeline API request.
const apiTimeout = 60 * time.Second

// runFlags holds the flags only the release run accepts.
type runFlags struct {
	// dryRun logs every mutation instead of performing it.
	dryRun bool

	// strict fails the run when a token is absent from every file.
	strict bool
}

// runRelease is the main logic function for the root command.
// It validates input and config before touching anything, builds the
// collaborators in the same dry-run mode, runs the orchestrator and
// prints the outcome, including a partial one when a step failed.
func runRelease(ctx context.Context, flags *releaseFlags, rf *runFlags, out io.Writer, log *logrus.Logger) error {
	// Step 1: Parse and validate the release options.
	log.Info("Parsing options.")
	opts, err := flags.options(rf.dryRun)
	if err != nil {
		return err
	}

	// Step 2: Load the config and fail fast on missing keys, including
	// the run token when this release type triggers a run.
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(opts.Type); err != nil {
		return err
	}
	log.WithField("config", flags.configPath).Debug("configuration loaded")

	// Step 3: Locate the repository containing the working directory.
	wd, err := os.Getwd()
	if err != nil {
		return model.WrapCLIError(model.ExitIOError, "failed to get current directory", err)
	}
	inspector, err := git.OpenInspector(wd)
	if err != nil {
		return err
	}
	// An unborn HEAD has nothing to tag, so stop before calling the API.
	head, err := inspector.Head()
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"root": inspector.Root(), "head": head}).Debug("repository found")

	// Step 4: Build the collaborators, all sharing the dry-run flag.
	repo := git.NewRepo(git.NewExecRunner(inspector.Root(), log), cfg.Git.Remote, log)
	repo.DryRun = opts.DryRun

	client := pipeline.NewClient(&http.Client{Timeout: apiTimeout}, pipeline.Endpoints{
		Repository: cfg.RepositoryURL(),
		Pipelines:  cfg.PipelinesURL(),
		Runs:       cfg.RunsURL(),
	}, cfg.API.PersonalAccessToken, cfg.API.PipelineToken, log)
	client.DryRun = opts.DryRun

	rewriter := rewrite.New(inspector.Filesystem(), log)
	rewriter.DryRun = opts.DryRun
	rewriter.Strict = rf.strict

	// Step 5: Run the sequence and report whatever was done.
	orch := release.New(opts, cfg, repo, client, rewriter, inspector, log)
	outcome, runErr := orch.Run(ctx)
	if outcome != nil && len(outcome.Steps) > 0 {
		if err := printOutcome(out, outcome); err != nil {
			return err
		}
	}
	return runErr
}

// printOutcome writes the outcome as JSON or as a text report, depending
// on the global --json flag.
func printOutcome(w io.Writer, o *model.Outcome) error {
	if IsJSONOutput() {
		data, err := json.MarshalIndent(o, "", "  ")
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to encode outcome", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := io.WriteString(w, formatOutcomeText(o))
	return err
}

// formatOutcomeText renders the outcome as a step table followed by the
// files touched.
//
//	Release prerelease 15.0.0.0 -> 15.1.0.0 (dry run)
//	STEP                      STATUS    DETAIL
//	resolve-repository-id     ok        repository id 5feb...
//	register-pipeline         warning   register pipeline: ...
func formatOutcomeText(o *model.Outcome) string {
	var b strings.Builder

	title := fmt.Sprintf("Release %s %s", o.Type, o.Version)
	if o.NextVersion != "" {
		title += " -> " + o.NextVersion
	}
	if o.DryRun {
		title += " (dry run)"
	}
	b.WriteString(title + "\n")
	if o.Type == model.ReleasePrerelease {
		if o.PipelineRegistered() {
			fmt.Fprintf(&b, "Pipeline %s\n", o.PipelineID)
		} else {
			b.WriteString("Pipeline not registered\n")
		}
	}

	fmt.Fprintf(&b, "%-25s %-9s %s\n", "STEP", "STATUS", "DETAIL")
	for _, s := range o.Steps {
		fmt.Fprintf(&b, "%-25s %-9s %s\n", s.Name, s.Status, s.Detail)
	}

	if len(o.Files) > 0 {
		b.WriteString("\nFILES\n")
		for _, f := range o.Files {
			fmt.Fprintf(&b, "%-40s %-9s %s\n", f.Path, fileState(f), FormatReplaced(f.Replaced))
		}
	}
	return b.String()
}

// fileState summarises what happened to one file.
func fileState(f model.FileChange) string {
	switch {
	case f.Written:
		return "written"
	case f.Changed:
		return "preview"
	default:
		return "unchanged"
	}
}

// FormatReplaced renders per-token match counts sorted by token name.
// Returns "-" when nothing was replaced.
//
// Example:
//
//	{"versionmajor": 1, "version_": 0} → "versionmajor=1"
//	{}                                 → "-"
func FormatReplaced(replaced map[string]int) string {
	names := make([]string, 0, len(replaced))
	for name, n := range replaced {
		if n > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, replaced[name])
	}
	return strings.Join(parts, " ")
}
