package model

import (
	"fmt"
	"strings"
)

// Version is a 4-component release identifier of the form
// MAJOR.MINOR.PATCHTYPE.PATCHNUM (e.g. "15.0.0.0").
//
// Components are kept as the strings the user typed so that derived
// values (license code, branch name) reproduce them verbatim, including
// any leading zeros.
type Version struct {
	Major     string `json:"major"`
	Minor     string `json:"minor"`
	PatchType string `json:"patchType"`
	PatchNum  string `json:"patchNum"`
}

// ParseVersion splits a version string into its four components.
//
// Every component must be a non-empty run of ASCII digits. Anything else
// (too few/many components, signs, letters, whitespace) is rejected with
// an ExitInvalidInput CLIError.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return Version{}, NewCLIError(ExitInvalidInput,
			fmt.Sprintf("invalid version %q: expected MAJOR.MINOR.PATCHTYPE.PATCHNUM", s))
	}
	for i, p := range parts {
		if !isDigits(p) {
			return Version{}, NewCLIError(ExitInvalidInput,
				fmt.Sprintf("invalid version %q: component %d (%q) is not a non-negative integer", s, i+1, p))
		}
	}
	return Version{Major: parts[0], Minor: parts[1], PatchType: parts[2], PatchNum: parts[3]}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String returns the dotted form, e.g. "15.0.0.0".
func (v Version) String() string {
	return strings.Join([]string{v.Major, v.Minor, v.PatchType, v.PatchNum}, ".")
}

// IsZero reports whether v is the zero value (no version supplied).
func (v Version) IsZero() bool {
	return v == Version{}
}

// MajorVersion returns "MAJOR.MINOR", e.g. "15.0". It is both the tag
// placed on the mainline at prerelease time and the versionmajor token.
func (v Version) MajorVersion() string {
	return v.Major + "." + v.Minor
}

// BranchName returns the release branch name, "V" + MAJOR.MINOR.
func (v Version) BranchName() string {
	return "V" + v.MajorVersion()
}

// LicenseCode returns the packed license version:
// MAJOR MINOR PATCHTYPE PATCHNUM followed by "00" (15.0.0.0 -> "1500000").
func (v Version) LicenseCode() string {
	return v.Major + v.Minor + v.PatchType + v.PatchNum + "00"
}

// LogToken returns the bracketed log-format token, e.g. {"V15.0"}.
func (v Version) LogToken() string {
	return `{"` + v.BranchName() + `"}`
}

// SnapshotTag returns the tag marking the start of development on a
// newly cut line, e.g. "15.1.0.0-snapshot".
func (v Version) SnapshotTag() string {
	return v.String() + "-snapshot"
}

// Derived bundles every value computed from a Version. It exists so the
// plan command and tests can compare the whole derived set at once.
type Derived struct {
	Version      string `json:"version"`
	BranchName   string `json:"branchName"`
	MajorVersion string `json:"majorVersion"`
	LicenseCode  string `json:"licenseCode"`
	LogToken     string `json:"logToken"`
	SnapshotTag  string `json:"snapshotTag"`
}

// Derive computes the full derived set for v.
func (v Version) Derive() Derived {
	return Derived{
		Version:      v.String(),
		BranchName:   v.BranchName(),
		MajorVersion: v.MajorVersion(),
		LicenseCode:  v.LicenseCode(),
		LogToken:     v.LogToken(),
		SnapshotTag:  v.SnapshotTag(),
	}
}
