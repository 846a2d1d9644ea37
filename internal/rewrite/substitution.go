package rewrite

import (
	"fmt"
	"regexp"

	"github.com/shinji-kodama/releasectl/internal/model"
)

// Token names reported in model.FileChange and in log lines.
const (
	TokenMajorVersion   = "versionmajor"
	TokenLicenseVersion = "version_"
	TokenLogVersion     = "cVersion_"
	TokenPrerelease     = "more_prerelease"
)

// Substitution is one named pattern replacement. Replacement is literal:
// "$" has no special meaning in it.
type Substitution struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Patterns are matched against whole file contents. Each token must start
// at a word boundary so identifiers that merely end in a token name
// (min_version_, old_versionmajor) are left alone. Components accept more
// than one digit so that a rewrite to e.g. 15.10 can be re-applied; the
// license code is the packed form of at least seven digits.
var (
	majorVersionPattern   = regexp.MustCompile(`\bversionmajor=\d+\.\d+`)
	licenseVersionPattern = regexp.MustCompile(`\bversion_ = \d{7,}\b`)
	logVersionPattern     = regexp.MustCompile(`\bcVersion_=\{\s*"V\d+\.\d+"\s*\}`)
	prereleasePattern     = regexp.MustCompile(`\bmore_prerelease=\d`)
)

// VersionSubstitutions returns the ordered rewrites that move the version
// tokens of a file to v.
func VersionSubstitutions(v model.Version) []Substitution {
	return []Substitution{
		{Name: TokenMajorVersion, Pattern: majorVersionPattern, Replacement: "versionmajor=" + v.MajorVersion()},
		{Name: TokenLicenseVersion, Pattern: licenseVersionPattern, Replacement: "version_ = " + v.LicenseCode()},
		{Name: TokenLogVersion, Pattern: logVersionPattern, Replacement: "cVersion_=" + v.LogToken()},
	}
}

// FlagSubstitutions returns the rewrite setting the prerelease flag.
// flag must be "0" or "1".
func FlagSubstitutions(flag string) ([]Substitution, error) {
	if flag != "0" && flag != "1" {
		return nil, model.NewCLIError(model.ExitInvalidInput,
			fmt.Sprintf("invalid prerelease flag %q: must be 0 or 1", flag))
	}
	return []Substitution{
		{Name: TokenPrerelease, Pattern: prereleasePattern, Replacement: "more_prerelease=" + flag},
	}, nil
}

// Apply runs subs over content in order and returns the new content along
// with per-token match counts and the names of tokens that did not match.
func Apply(content []byte, subs []Substitution) (out []byte, replaced map[string]int, missing []string) {
	out = content
	replaced = make(map[string]int, len(subs))
	for _, s := range subs {
		n := len(s.Pattern.FindAllIndex(out, -1))
		replaced[s.Name] = n
		if n == 0 {
			missing = append(missing, s.Name)
			continue
		}
		out = s.Pattern.ReplaceAllLiteral(out, []byte(s.Replacement))
	}
	return out, replaced, missing
}
