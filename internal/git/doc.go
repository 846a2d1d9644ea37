// Package git provides the version-control side of a release.
//
// Two halves live here:
//   - Repo performs the mutating release operations (tag, branch, commit,
//     push) by invoking the git binary through a Runner. Every operation is
//     dry-run aware: in dry-run it only logs its intent.
//   - Inspector opens the checkout read-only with go-git to discover the
//     repository root and to check local refs before anything is mutated.
//
// Mutations shell out to git rather than going through go-git so that
// pushes use the user's credential helpers and remote configuration
// exactly as their terminal does.
package git
