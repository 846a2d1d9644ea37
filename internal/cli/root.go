// Package cli implements the cobra-based CLI for releasectl.
//
// The root command runs a release; the plan subcommand only describes one.
// This file defines the root command, the flags shared by both, logger
// construction and the exit-code handling of Execute.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/releasectl/internal/config"
	"github.com/shinji-kodama/releasectl/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// Logs always go to stderr; only the result on stdout changes format.
	jsonOutput bool

	// verbose lowers the log level from info to debug.
	verbose bool
)

// Version, Commit, and Date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// releaseFlags holds the values of the flags that describe a release.
// They are persistent on the root command so plan accepts them too.
type releaseFlags struct {
	releaseType      string
	versionToRelease string
	nextVersion      string
	configPath       string
}

// NewRootCommand creates and configures the root cobra command.
//
// Running the root command performs a release. Flag names keep the
// underscore spelling release scripts already pass (--release_type).
func NewRootCommand() *cobra.Command {
	flags := &releaseFlags{}
	runFlags := &runFlags{}

	rootCmd := &cobra.Command{
		Use:   "releasectl",
		Short: "Tag, branch and bump versions for a release",
		Long: `releasectl runs the release sequence of a product branch.

A prerelease tags the mainline, cuts the VMAJOR.MINOR release branch,
bumps the version files to the next version, tags the snapshot and
registers a nightly pipeline. A major, ep or cp release clears the
prerelease flag on the release branch, tags the version, triggers the
release pipeline and sets the flag back.

Examples:
  releasectl --dry-run --release_type prerelease --version_to_release 15.0.0.0 --next_version 15.1.0.0
  releasectl --release_type major --version_to_release 15.0.0.0
  releasectl plan --release_type ep --version_to_release 15.0.0.1`,

		Args: cobra.NoArgs,

		// SilenceUsage prevents cobra from printing usage on every error.
		// We handle error output ourselves for cleaner UX.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd.ErrOrStderr())
			return runRelease(cmd.Context(), flags, runFlags, cmd.OutOrStdout(), log)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&jsonOutput, "json", false, "Output the result in JSON format")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&flags.releaseType, "release_type", "", "Release type: prerelease, major, ep, cp")
	pf.StringVar(&flags.versionToRelease, "version_to_release", "", "Version to release, e.g. 15.0.0.0")
	pf.StringVar(&flags.nextVersion, "next_version", "", "Next development version, e.g. 15.1.0.0 (prerelease only)")
	pf.StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "Path to the config file (.ini, .yaml or .json)")

	rootCmd.Flags().BoolVarP(&runFlags.dryRun, "dry-run", "n", false, "Do not do the release, but log things")
	rootCmd.Flags().BoolVar(&runFlags.strict, "strict", false, "Fail when a version token is not found in any file")

	rootCmd.AddCommand(NewPlanCommand(flags))

	return rootCmd
}

// newLogger builds the logger every component receives. Output goes to w
// (stderr in production) with full timestamps.
func newLogger(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// options converts the raw flag values into validated release options.
// next_version is parsed whenever given, and required for a prerelease.
func (f *releaseFlags) options(dryRun bool) (model.Options, error) {
	rt, err := model.ParseReleaseType(f.releaseType)
	if err != nil {
		return model.Options{}, err
	}
	if f.versionToRelease == "" {
		return model.Options{}, model.NewCLIError(model.ExitInvalidInput, "--version_to_release is required")
	}
	v, err := model.ParseVersion(f.versionToRelease)
	if err != nil {
		return model.Options{}, err
	}

	opts := model.Options{Type: rt, VersionToRelease: v, DryRun: dryRun}
	if f.nextVersion != "" {
		if opts.NextVersion, err = model.ParseVersion(f.nextVersion); err != nil {
			return model.Options{}, err
		}
	}
	if err := opts.Validate(); err != nil {
		return model.Options{}, err
	}
	return opts, nil
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// CLIError values carry their own exit code; other errors exit with 1.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(os.Stderr, cliErr.Code, cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		// Generic error (e.g. an unknown flag) — exit with code 1.
		printError(os.Stderr, model.ExitGeneralError, err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(w io.Writer, code model.ExitCode, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{
			"error": map[string]any{
				"kind":    code.String(),
				"code":    int(code),
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]any); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// Errors go to stderr even in JSON mode; stdout carries the outcome.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		_, _ = fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		_, _ = fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		_, _ = fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}
