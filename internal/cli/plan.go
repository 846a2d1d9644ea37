// Package cli — plan.go implements the "releasectl plan" command.
//
// plan prints the values derived from the version flags and the steps a
// release would run, in order. It reads the config file when one exists
// so names such as the pipeline and integration branch match a real run,
// but never opens the repository or calls the API.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/releasectl/internal/config"
	"github.com/shinji-kodama/releasectl/internal/model"
	"github.com/shinji-kodama/releasectl/internal/release"
)

// NewPlanCommand creates the "plan" cobra command. It shares the release
// flags of the root command.
func NewPlanCommand(flags *releaseFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the derived values and steps of a release",
		Long: `Show what a release would do without doing anything.

Examples:
  releasectl plan --release_type prerelease --version_to_release 15.0.0.0 --next_version 15.1.0.0
  releasectl plan --release_type cp --version_to_release 15.0.1.0 --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(flags, cmd.OutOrStdout())
		},
	}
}

// planJSON is the JSON output structure of the plan command.
type planJSON struct {
	ReleaseType      model.ReleaseType     `json:"releaseType"`
	VersionToRelease model.Derived         `json:"versionToRelease"`
	NextVersion      *model.Derived        `json:"nextVersion,omitempty"`
	Steps            []release.PlannedStep `json:"steps"`
}

// runPlan is the main logic function for the plan command.
func runPlan(flags *releaseFlags, out io.Writer) error {
	// Step 1: Parse the options exactly as a run would.
	opts, err := flags.options(false)
	if err != nil {
		return err
	}

	// Step 2: Use the config file if present, the defaults otherwise.
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}

	// Step 3: Build the step list.
	steps, err := release.Plan(opts, cfg)
	if err != nil {
		return err
	}

	result := planJSON{
		ReleaseType:      opts.Type,
		VersionToRelease: opts.VersionToRelease.Derive(),
		Steps:            steps,
	}
	if !opts.NextVersion.IsZero() {
		next := opts.NextVersion.Derive()
		result.NextVersion = &next
	}

	// Step 4: Output in the requested format.
	if IsJSONOutput() {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to encode plan", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	_, err = io.WriteString(out, formatPlanText(result))
	return err
}

// formatPlanText renders the plan as derived values followed by numbered
// steps. Recoverable steps are marked with "(may warn)".
func formatPlanText(p planJSON) string {
	var b strings.Builder

	writeDerived := func(label string, d model.Derived) {
		fmt.Fprintf(&b, "%s %s\n", label, d.Version)
		fmt.Fprintf(&b, "  major version  %s\n", d.MajorVersion)
		fmt.Fprintf(&b, "  branch         %s\n", d.BranchName)
		fmt.Fprintf(&b, "  license code   %s\n", d.LicenseCode)
		fmt.Fprintf(&b, "  log token      %s\n", d.LogToken)
	}

	fmt.Fprintf(&b, "Release type %s\n", p.ReleaseType)
	writeDerived("Version to release", p.VersionToRelease)
	if p.NextVersion != nil {
		writeDerived("Next version", *p.NextVersion)
		fmt.Fprintf(&b, "  snapshot tag   %s\n", p.NextVersion.SnapshotTag)
	}

	b.WriteString("\nSteps\n")
	for i, s := range p.Steps {
		line := fmt.Sprintf("%2d. %-25s %s", i+1, s.Name, s.Description)
		if s.Recoverable {
			line += " (may warn)"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
