// Package model defines the domain types shared across releasectl.
//
// Types include:
//   - ReleaseType: the enumerated release flavor (prerelease, major, ep, cp)
//   - Version: a 4-component version identifier and its derived values
//   - PipelineDefinition: the payload registered with the pipeline API
//   - Outcome / StepResult: the ordered record of one release run
//   - CLIError / ExitCode: the error taxonomy mapped to process exit codes
//
// Nothing in this package performs I/O; every value is transient and
// rebuilt per invocation.
package model
