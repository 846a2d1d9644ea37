// Package pipeline talks to the Azure DevOps pipelines REST API.
//
// Three calls are made during a release:
//   - GET the repository to learn its id (needed by pipeline definitions)
//   - POST a new YAML pipeline definition (prerelease only)
//   - POST a run of the release pipeline against a tag (major and patches)
//
// Every request authenticates with HTTP Basic auth, an empty user name and
// a token as password. Errors are *model.CLIError values: ExitAPIError
// for an unexpected status or body, ExitTransportError when the request
// never got a response.
package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/releasectl/internal/model"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Endpoints are the fully built API URLs, including api-version.
type Endpoints struct {
	Repository string
	Pipelines  string
	Runs       string
}

// Client performs the pipeline API calls of a release.
type Client struct {
	http      *http.Client
	log       logrus.FieldLogger
	endpoints Endpoints

	// token authenticates the repository and pipeline-definition calls.
	token string
	// runToken authenticates run triggers.
	runToken string

	// DryRun replaces both POST calls with a log line. The repository id
	// GET is read-only and always runs.
	DryRun bool
}

// NewClient creates a Client. A nil httpClient means http.DefaultClient.
func NewClient(httpClient *http.Client, endpoints Endpoints, token, runToken string, log logrus.FieldLogger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:      httpClient,
		log:       log,
		endpoints: endpoints,
		token:     token,
		runToken:  runToken,
	}
}

// idResponse is the subset of repository and pipeline bodies we read.
// ID is raw because repositories use GUID strings and pipelines integers.
type idResponse struct {
	ID json.RawMessage `json:"id"`
}

// ResolveRepositoryID fetches the repository and returns its id.
func (c *Client) ResolveRepositoryID(ctx context.Context) (string, error) {
	const op = "resolve repository id"

	status, body, err := c.do(ctx, http.MethodGet, c.endpoints.Repository, c.token, nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", model.WrapCLIError(model.ExitAPIError,
			fmt.Sprintf("failed to %s (HTTP %d)", op, status),
			&StatusError{Op: op, StatusCode: status, Body: string(body)})
	}

	id, err := extractID(body)
	if err != nil {
		return "", model.WrapCLIError(model.ExitAPIError, fmt.Sprintf("failed to %s", op), err)
	}
	c.log.Infof("The repository ID is: %s", id)
	return id, nil
}

// RegisterPipeline creates a pipeline from def and returns the id the API
// assigned to it. In dry-run it logs the definition and returns "".
func (c *Client) RegisterPipeline(ctx context.Context, def model.PipelineDefinition) (string, error) {
	const op = "register pipeline"

	payload, err := json.Marshal(def)
	if err != nil {
		return "", model.WrapCLIError(model.ExitGeneralError, "failed to encode pipeline definition", err)
	}

	if c.DryRun {
		c.log.Infof("Dry Run - Created pipeline with this definition: %s", payload)
		return "", nil
	}

	status, body, err := c.do(ctx, http.MethodPost, c.endpoints.Pipelines, c.token, payload)
	if err != nil {
		return "", err
	}

	entry := c.log.WithFields(logrus.Fields{"status": status, "pipeline": def.Name})
	switch {
	case status >= 200 && status <= 299:
	case status == http.StatusBadRequest:
		entry.Warnf("pipeline definition rejected: %s", strings.TrimSpace(string(body)))
	case status == http.StatusConflict:
		entry.Warnf("pipeline already exists: %s", strings.TrimSpace(string(body)))
	default:
		entry.Warnf("unexpected status creating pipeline: %s", strings.TrimSpace(string(body)))
	}
	if status < 200 || status > 299 {
		return "", model.WrapCLIError(model.ExitAPIError,
			fmt.Sprintf("failed to %s %s (HTTP %d)", op, def.Name, status),
			&StatusError{Op: op, StatusCode: status, Body: string(body)})
	}

	id, err := extractID(body)
	if err != nil {
		return "", model.WrapCLIError(model.ExitAPIError, fmt.Sprintf("failed to %s %s", op, def.Name), err)
	}
	c.log.Infof("The pipeline has been created successfully. ID: %s", id)
	return id, nil
}

// runRequest asks for a run of the pipeline's own repository at a ref.
type runRequest struct {
	Resources runResources `json:"resources"`
}

type runResources struct {
	Repositories map[string]runRepository `json:"repositories"`
}

type runRepository struct {
	RefName string `json:"refName"`
}

// TriggerRun starts the release pipeline against refs/tags/tag. Only
// HTTP 200 counts as success.
func (c *Client) TriggerRun(ctx context.Context, tag string) error {
	const op = "trigger release build"

	if c.DryRun {
		c.log.Infof("Dry Run - Triggering release build %s", tag)
		return nil
	}

	c.log.Info("Running trigger")
	payload, err := json.Marshal(runRequest{Resources: runResources{
		Repositories: map[string]runRepository{"self": {RefName: "refs/tags/" + tag}},
	}})
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to encode run request", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, c.endpoints.Runs, c.runToken, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return model.WrapCLIError(model.ExitAPIError,
			fmt.Sprintf("Failed to trigger: %d", status),
			&StatusError{Op: op, StatusCode: status, Body: string(body)})
	}
	c.log.Infof("Triggered release build for %s", tag)
	return nil
}

// do sends one request and returns the status and body. Only failures to
// get a response are returned as errors; status handling is the caller's.
func (c *Client) do(ctx context.Context, method, url, token string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, model.WrapCLIError(model.ExitConfigError, fmt.Sprintf("invalid API url %s", url), err)
	}
	req.Header.Set("Authorization", basicAuth(token))
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debugf("%s %s", method, url)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, model.WrapCLIError(model.ExitTransportError, fmt.Sprintf("%s %s failed", method, url), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, model.WrapCLIError(model.ExitTransportError,
			fmt.Sprintf("failed to read response from %s", url), err)
	}
	return resp.StatusCode, body, nil
}

// basicAuth builds the Authorization header for an empty user and token.
func basicAuth(token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+token))
}

// extractID decodes body and returns its "id" as a string. Numeric ids
// are returned in their JSON form.
func extractID(body []byte) (string, error) {
	var resp idResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("invalid JSON body: %w", err)
	}
	raw := strings.TrimSpace(string(resp.ID))
	if raw == "" || raw == "null" {
		return "", ErrMissingID
	}

	var s string
	if err := json.Unmarshal(resp.ID, &s); err == nil {
		if s == "" {
			return "", ErrMissingID
		}
		return s, nil
	}
	return raw, nil
}
