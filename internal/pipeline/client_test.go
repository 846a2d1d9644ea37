package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/releasectl/internal/model"
)

// apiStub serves fixed responses per path and records what it received.
type apiStub struct {
	status   map[string]int
	body     map[string]string
	requests atomic.Int32
	lastAuth atomic.Value
	lastBody atomic.Value
	lastCT   atomic.Value
}

func newAPIStub() *apiStub {
	return &apiStub{status: map[string]int{}, body: map[string]string{}}
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.lastAuth.Store(r.Header.Get("Authorization"))
	s.lastCT.Store(r.Header.Get("Content-Type"))
	data, _ := io.ReadAll(r.Body)
	s.lastBody.Store(string(data))

	status, ok := s.status[r.URL.Path]
	if !ok {
		status = http.StatusNotFound
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, s.body[r.URL.Path])
}

const (
	repoPath      = "/org/proj/_apis/git/repositories/more"
	pipelinesPath = "/org/proj/_apis/pipelines"
	runsPath      = "/org/proj/_apis/pipelines/979/runs"
)

func newTestClient(t *testing.T, stub *apiStub) (*Client, *test.Hook) {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	endpoints := Endpoints{
		Repository: srv.URL + repoPath + "?api-version=7.1",
		Pipelines:  srv.URL + pipelinesPath + "?api-version=7.1",
		Runs:       srv.URL + runsPath + "?api-version=7.1",
	}
	return NewClient(srv.Client(), endpoints, "pat-secret", "run-secret", logger), hook
}

func testDefinition() model.PipelineDefinition {
	return model.NewPipelineDefinition("more-nightly-15.0", `\Demo\MORE`, "more", "repo-guid", "azure-pipelines-nightly.yml")
}

func expectedAuth(token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+token))
}

func TestResolveRepositoryID(t *testing.T) {
	stub := newAPIStub()
	stub.status[repoPath] = http.StatusOK
	stub.body[repoPath] = `{"id":"5febef5a-833d-4e14-b9c0-14cb638f91e6","name":"more"}`
	c, _ := newTestClient(t, stub)

	id, err := c.ResolveRepositoryID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5febef5a-833d-4e14-b9c0-14cb638f91e6", id)
	assert.Equal(t, expectedAuth("pat-secret"), stub.lastAuth.Load())
}

func TestResolveRepositoryID_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    model.ExitCode
		wantStatus  int
		wantMissing bool
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"message":"no repo"}`, wantCode: model.ExitAPIError, wantStatus: 404},
		{name: "unauthorized", status: http.StatusUnauthorized, wantCode: model.ExitAPIError, wantStatus: 401},
		{name: "missing id", status: http.StatusOK, body: `{"name":"more"}`, wantCode: model.ExitAPIError, wantMissing: true},
		{name: "null id", status: http.StatusOK, body: `{"id":null}`, wantCode: model.ExitAPIError, wantMissing: true},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantCode: model.ExitAPIError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newAPIStub()
			stub.status[repoPath] = tt.status
			stub.body[repoPath] = tt.body
			c, _ := newTestClient(t, stub)

			_, err := c.ResolveRepositoryID(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, model.CodeOf(err))
			assert.Equal(t, tt.wantStatus, StatusCodeOf(err))
			assert.Equal(t, tt.wantMissing, errors.Is(err, ErrMissingID))
		})
	}
}

func TestResolveRepositoryID_Transport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger, _ := test.NewNullLogger()
	c := NewClient(nil, Endpoints{Repository: url + repoPath}, "pat", "", logger)

	_, err := c.ResolveRepositoryID(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.ExitTransportError, model.CodeOf(err))
}

func TestRegisterPipeline(t *testing.T) {
	stub := newAPIStub()
	stub.status[pipelinesPath] = http.StatusOK
	stub.body[pipelinesPath] = `{"id":42,"name":"more-nightly-15.0"}`
	c, _ := newTestClient(t, stub)

	id, err := c.RegisterPipeline(context.Background(), testDefinition())
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	assert.Equal(t, expectedAuth("pat-secret"), stub.lastAuth.Load())
	assert.Equal(t, "application/json", stub.lastCT.Load())

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(stub.lastBody.Load().(string)), &sent))
	assert.Equal(t, "more-nightly-15.0", sent["name"])
	assert.Equal(t, `\Demo\MORE`, sent["folder"])
}

// TestRegisterPipeline_MissingID covers the path that must stay
// recoverable: a success status without an id.
func TestRegisterPipeline_MissingID(t *testing.T) {
	stub := newAPIStub()
	stub.status[pipelinesPath] = http.StatusOK
	stub.body[pipelinesPath] = `{"name":"more-nightly-15.0"}`
	c, _ := newTestClient(t, stub)

	id, err := c.RegisterPipeline(context.Background(), testDefinition())
	require.Error(t, err)
	assert.Empty(t, id)
	assert.ErrorIs(t, err, ErrMissingID)
	assert.Equal(t, model.ExitAPIError, model.CodeOf(err))
}

// TestRegisterPipeline_StatusLogging verifies 400, 409 and other failures
// are each described differently.
func TestRegisterPipeline_StatusLogging(t *testing.T) {
	tests := []struct {
		status  int
		wantLog string
	}{
		{status: http.StatusBadRequest, wantLog: "pipeline definition rejected"},
		{status: http.StatusConflict, wantLog: "pipeline already exists"},
		{status: http.StatusInternalServerError, wantLog: "unexpected status creating pipeline"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			stub := newAPIStub()
			stub.status[pipelinesPath] = tt.status
			stub.body[pipelinesPath] = `{"message":"nope"}`
			c, hook := newTestClient(t, stub)

			_, err := c.RegisterPipeline(context.Background(), testDefinition())
			require.Error(t, err)
			assert.Equal(t, tt.status, StatusCodeOf(err))

			var found bool
			for _, e := range hook.AllEntries() {
				if e.Level == logrus.WarnLevel && strings.HasPrefix(e.Message, tt.wantLog) {
					found = true
					assert.Contains(t, e.Message, "nope")
					assert.Equal(t, tt.status, e.Data["status"])
				}
			}
			assert.True(t, found, "expected a %q warning", tt.wantLog)
		})
	}
}

func TestTriggerRun(t *testing.T) {
	stub := newAPIStub()
	stub.status[runsPath] = http.StatusOK
	stub.body[runsPath] = `{"id":1001}`
	c, _ := newTestClient(t, stub)

	require.NoError(t, c.TriggerRun(context.Background(), "15.0.0.0"))

	assert.Equal(t, expectedAuth("run-secret"), stub.lastAuth.Load())
	assert.JSONEq(t, `{"resources":{"repositories":{"self":{"refName":"refs/tags/15.0.0.0"}}}}`,
		stub.lastBody.Load().(string))
}

// TestTriggerRun_NonOK checks that anything but 200 is an API error,
// including other 2xx codes.
func TestTriggerRun_NonOK(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusForbidden, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			stub := newAPIStub()
			stub.status[runsPath] = status
			c, _ := newTestClient(t, stub)

			err := c.TriggerRun(context.Background(), "15.0.0.0")
			require.Error(t, err)
			assert.Equal(t, model.ExitAPIError, model.CodeOf(err))
			assert.Equal(t, status, StatusCodeOf(err))
		})
	}
}

func TestTriggerRun_Transport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger, _ := test.NewNullLogger()
	c := NewClient(nil, Endpoints{Runs: url + runsPath}, "pat", "run", logger)

	err := c.TriggerRun(context.Background(), "15.0.0.0")
	require.Error(t, err)
	assert.Equal(t, model.ExitTransportError, model.CodeOf(err))
}

// TestDryRun_NoPosts verifies neither POST reaches the server in dry-run
// while the repository lookup still does.
func TestDryRun_NoPosts(t *testing.T) {
	stub := newAPIStub()
	stub.status[repoPath] = http.StatusOK
	stub.body[repoPath] = `{"id":"repo-guid"}`
	c, hook := newTestClient(t, stub)
	c.DryRun = true
	ctx := context.Background()

	_, err := c.ResolveRepositoryID(ctx)
	require.NoError(t, err)

	id, err := c.RegisterPipeline(ctx, testDefinition())
	require.NoError(t, err)
	assert.Empty(t, id)
	require.NoError(t, c.TriggerRun(ctx, "15.0.0.0"))

	assert.Equal(t, int32(1), stub.requests.Load())

	var dryRunLines []string
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "Dry Run - ") {
			dryRunLines = append(dryRunLines, e.Message)
		}
	}
	require.Len(t, dryRunLines, 2)
	assert.Contains(t, dryRunLines[0], `"name":"more-nightly-15.0"`)
	assert.Equal(t, "Dry Run - Triggering release build 15.0.0.0", dryRunLines[1])
}
