// Package rewrite locates version-bearing files in a repository checkout
// and rewrites the version and prerelease-flag tokens embedded in them.
//
// All file access goes through a go-billy filesystem rooted at the
// repository top level, so the same code runs against the real checkout
// (osfs) and against in-memory fixtures (memfs) in tests.
//
// Substitutions are ordered and each one reports how many matches it
// replaced. A token that matches nowhere is surfaced as a warning (or, in
// strict mode, as an error) instead of being skipped silently. Files are
// only ever rewritten in place; the rewriter never creates files.
package rewrite
