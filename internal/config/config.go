// Package config loads and validates the releasectl configuration file.
//
// The file format is chosen by extension:
//   - .ini (default, e.g. config.ini) via gopkg.in/ini.v1
//   - .yaml / .yml via gopkg.in/yaml.v3
//   - .json / .jsonc via github.com/tidwall/jsonc + encoding/json
//
// INI files use the section names API, PIPELINE and GIT; YAML and JSON
// files use the lowercase keys api, pipeline and git. Key names inside a
// section are the same snake_case names in every format.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/releasectl/internal/model"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "config.ini"

// Defaults applied to optional keys left empty.
const (
	DefaultPipelineFolder    = `\Demo\MORE`
	DefaultPipelineYAMLPath  = "azure-pipelines-nightly.yml"
	DefaultRemote            = "origin"
	DefaultIntegrationBranch = "hackathon"
)

// DefaultVersionFiles are the file names whose version tokens are bumped
// at prerelease time.
var DefaultVersionFiles = []string{"branch.properties", "mRelease.h"}

// DefaultFlagFiles are the file names carrying the prerelease flag.
var DefaultFlagFiles = []string{"branch.properties"}

// Config is the full configuration for one run.
type Config struct {
	API      APIConfig      `ini:"API" yaml:"api" json:"api"`
	Pipeline PipelineConfig `ini:"PIPELINE" yaml:"pipeline" json:"pipeline"`
	Git      GitConfig      `ini:"GIT" yaml:"git" json:"git"`
}

// APIConfig holds the pipeline API coordinates and credentials.
type APIConfig struct {
	OrganizationURL     string `ini:"organization_url" yaml:"organization_url" json:"organization_url"`
	ProjectName         string `ini:"project_name" yaml:"project_name" json:"project_name"`
	PersonalAccessToken string `ini:"personal_access_token" yaml:"personal_access_token" json:"personal_access_token"`
	APIVersion          string `ini:"api_version" yaml:"api_version" json:"api_version"`
	RepoName            string `ini:"repo_name" yaml:"repo_name" json:"repo_name"`

	// PipelineID is the id of the release pipeline triggered by
	// major/ep/cp releases.
	PipelineID string `ini:"pipeline_id" yaml:"pipeline_id" json:"pipeline_id"`

	// PipelineToken authenticates release pipeline runs. It has no default.
	PipelineToken string `ini:"pipeline_token" yaml:"pipeline_token" json:"pipeline_token"`
}

// PipelineConfig describes the nightly pipeline registered at prerelease.
type PipelineConfig struct {
	// Name defaults to "<repo_name>-nightly-<MAJOR.MINOR>".
	Name     string `ini:"name" yaml:"name" json:"name"`
	Folder   string `ini:"folder" yaml:"folder" json:"folder"`
	YAMLPath string `ini:"yaml_path" yaml:"yaml_path" json:"yaml_path"`
}

// GitConfig holds repository-side settings.
type GitConfig struct {
	Remote            string   `ini:"remote" yaml:"remote" json:"remote"`
	IntegrationBranch string   `ini:"integration_branch" yaml:"integration_branch" json:"integration_branch"`
	VersionFiles      []string `ini:"version_files" delim:"," yaml:"version_files" json:"version_files"`
	FlagFiles         []string `ini:"flag_files" delim:"," yaml:"flag_files" json:"flag_files"`
}

// Load reads the config file at path, decodes it according to its
// extension, and fills defaults. It does not validate required keys; call
// Validate once the release type is known.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	default:
		err = decodeINI(data, cfg)
	}
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// decodeINI maps an INI document onto cfg. Unknown sections and keys are
// ignored, matching how the YAML and JSON decoders treat unknown fields.
func decodeINI(data []byte, cfg *Config) error {
	f, err := ini.Load(data)
	if err != nil {
		return err
	}
	return f.MapTo(cfg)
}

// Default returns a Config holding only the defaults, for commands that
// never reach the API.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Pipeline.Folder == "" {
		c.Pipeline.Folder = DefaultPipelineFolder
	}
	if c.Pipeline.YAMLPath == "" {
		c.Pipeline.YAMLPath = DefaultPipelineYAMLPath
	}
	if c.Git.Remote == "" {
		c.Git.Remote = DefaultRemote
	}
	if c.Git.IntegrationBranch == "" {
		c.Git.IntegrationBranch = DefaultIntegrationBranch
	}
	c.Git.VersionFiles = trimList(c.Git.VersionFiles)
	if len(c.Git.VersionFiles) == 0 {
		c.Git.VersionFiles = append([]string(nil), DefaultVersionFiles...)
	}
	c.Git.FlagFiles = trimList(c.Git.FlagFiles)
	if len(c.Git.FlagFiles) == 0 {
		c.Git.FlagFiles = append([]string(nil), DefaultFlagFiles...)
	}
}

func trimList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every required key that is missing for the given
// release type in a single ExitConfigError.
//
// pipeline_id and pipeline_token are only required when the release type
// triggers a pipeline run; there is no fallback for either.
func (c *Config) Validate(rt model.ReleaseType) error {
	type requiredKey struct {
		key   string
		value string
	}
	required := []requiredKey{
		{"API.organization_url", c.API.OrganizationURL},
		{"API.project_name", c.API.ProjectName},
		{"API.personal_access_token", c.API.PersonalAccessToken},
		{"API.api_version", c.API.APIVersion},
		{"API.repo_name", c.API.RepoName},
	}
	if rt.TriggersRun() {
		required = append(required,
			requiredKey{"API.pipeline_id", c.API.PipelineID},
			requiredKey{"API.pipeline_token", c.API.PipelineToken},
		)
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("missing required config keys: %s", strings.Join(missing, ", ")))
	}

	if _, err := url.Parse(c.API.OrganizationURL); err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid API.organization_url", err)
	}
	return nil
}

// PipelineName returns the configured nightly pipeline name, or the
// default derived from the repository name and MAJOR.MINOR.
func (c *Config) PipelineName(majorVersion string) string {
	if c.Pipeline.Name != "" {
		return c.Pipeline.Name
	}
	return fmt.Sprintf("%s-nightly-%s", c.API.RepoName, majorVersion)
}

// RepositoryURL is the repository-info endpoint.
func (c *Config) RepositoryURL() string {
	return c.endpoint("git", "repositories", c.API.RepoName)
}

// PipelinesURL is the pipelines-list endpoint used to create pipelines.
func (c *Config) PipelinesURL() string {
	return c.endpoint("pipelines")
}

// RunsURL is the run endpoint of the configured release pipeline.
func (c *Config) RunsURL() string {
	return c.endpoint("pipelines", c.API.PipelineID, "runs")
}

// endpoint builds {org}/{project}/_apis/{segments...}?api-version={v}.
func (c *Config) endpoint(segments ...string) string {
	parts := []string{strings.TrimRight(c.API.OrganizationURL, "/"), url.PathEscape(c.API.ProjectName), "_apis"}
	for _, s := range segments {
		parts = append(parts, url.PathEscape(s))
	}
	q := url.Values{"api-version": []string{c.API.APIVersion}}
	return strings.Join(parts, "/") + "?" + q.Encode()
}
