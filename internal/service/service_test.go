package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joshrwolf/ecs/internal/config"
	"github.com/joshrwolf/ecs/internal/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, m *enginetest.Client, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	New(m, Options{Version: "v0.0.0-test"}).Routes().ServeHTTP(rec, req)
	return rec
}

func expectRun(m *enginetest.Client, cmd []string, fetchErr error) {
	m.On("PullImage", mock.Anything, "alpine", "3.18").Return(nil)
	m.On("RunContainer", mock.Anything, "alpine", "3.18", cmd).Return("c1", nil)
	m.On("WaitForExit", mock.Anything, "c1").Return(0, nil)
	m.On("FetchLogs", mock.Anything, "c1").Return([]byte("hi\n"), []byte(""), fetchErr)
	m.On("DeleteContainer", mock.Anything, "c1").Return(nil)
}

func TestCreateTask(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "string cmd", body: `{"docker_image": "alpine", "tag": "3.18", "cmd": "echo hi"}`},
		{name: "list cmd", body: `{"docker_image": "alpine", "tag": "3.18", "cmd": ["echo", "hi"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &enginetest.Client{}
			expectRun(m, []string{"echo", "hi"}, nil)

			rec := do(t, m, http.MethodPost, "/v1.1/tasks", tt.body)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-ECS-Correlation-ID"))

			var got taskResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, 0, got.ExitCode)
			assert.Equal(t, "hi\n", string(got.Stdout))
			assert.Empty(t, got.Stderr)
			m.AssertExpectations(t)
		})
	}
}

func TestCreateTaskFailure(t *testing.T) {
	m := &enginetest.Client{}
	expectRun(m, []string{"echo", "hi"}, errors.New("log driver none"))

	rec := do(t, m, http.MethodPost, "/v1.1/tasks", `{"docker_image": "alpine", "tag": "3.18", "cmd": "echo hi"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "fetching-logs", got["failure"])
	assert.Contains(t, got["error"], "log driver none")
	m.AssertNotCalled(t, "DeleteContainer", mock.Anything, mock.Anything)
}

func TestCreateTaskBadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `docker_image=alpine`},
		{name: "missing tag", body: `{"docker_image": "alpine", "cmd": "echo hi"}`},
		{name: "empty image", body: `{"docker_image": "", "tag": "3.18", "cmd": "echo hi"}`},
		{name: "unknown field", body: `{"docker_image": "alpine", "tag": "3.18", "cmd": "echo hi", "x": 1}`},
		{name: "cmd of numbers", body: `{"docker_image": "alpine", "tag": "3.18", "cmd": [1, 2]}`},
		{name: "unterminated quote", body: `{"docker_image": "alpine", "tag": "3.18", "cmd": "echo \"hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &enginetest.Client{}
			rec := do(t, m, http.MethodPost, "/v1.1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			m.AssertNotCalled(t, "PullImage", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCreateTaskOverCapacity(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	m := &enginetest.Client{}
	m.On("PullImage", mock.Anything, "alpine", "3.18").Return(nil).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Once()
	m.On("RunContainer", mock.Anything, "alpine", "3.18", []string{"true"}).Return("c1", nil)
	m.On("WaitForExit", mock.Anything, "c1").Return(0, nil)
	m.On("FetchLogs", mock.Anything, "c1").Return([]byte(""), []byte(""), nil)
	m.On("DeleteContainer", mock.Anything, "c1").Return(nil)

	h := New(m, Options{Version: "v0.0.0-test", MaxConcurrentRequests: 1}).Routes()
	body := `{"docker_image": "alpine", "tag": "3.18", "cmd": "true"}`

	first := make(chan *httptest.ResponseRecorder)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1.1/tasks", strings.NewReader(body)))
		first <- rec
	}()
	<-started

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1.1/tasks", strings.NewReader(body)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1.1/_health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	close(release)
	assert.Equal(t, http.StatusCreated, (<-first).Code)
	m.AssertNumberOfCalls(t, "PullImage", 1)
}

func TestNewDefaultsConcurrency(t *testing.T) {
	s := New(&enginetest.Client{}, Options{})
	assert.Equal(t, config.DefaultMaxConcurrentRequests, s.limit)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		engine    int
		engineErr error
		wantCode  int
		want      string
		checked   bool
	}{
		{name: "quick by default", wantCode: http.StatusOK, want: "green"},
		{name: "explicit quick", query: "?quick=true", wantCode: http.StatusOK, want: "green"},
		{name: "engine up", query: "?quick=false", engine: http.StatusOK, wantCode: http.StatusOK, want: "green", checked: true},
		{name: "engine erroring", query: "?quick=false", engine: http.StatusInternalServerError, wantCode: http.StatusServiceUnavailable, want: "red", checked: true},
		{name: "engine unreachable", query: "?quick=false", engineErr: errors.New("dial unix: no such file"), wantCode: http.StatusServiceUnavailable, want: "red", checked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &enginetest.Client{}
			m.On("ProbeHealth", mock.Anything).Return(tt.engine, tt.engineErr).Maybe()

			rec := do(t, m, http.MethodGet, "/v1.1/_health"+tt.query, "")
			require.Equal(t, tt.wantCode, rec.Code)

			var got struct {
				Status  string `json:"status"`
				Details struct {
					Engine struct {
						Connectivity string `json:"connectivity"`
					} `json:"engine"`
				} `json:"details"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got.Status)

			if tt.checked {
				assert.Equal(t, tt.want, got.Details.Engine.Connectivity)
				m.AssertNumberOfCalls(t, "ProbeHealth", 1)
			} else {
				m.AssertNotCalled(t, "ProbeHealth", mock.Anything)
			}
		})
	}
}

func TestHealthBadQuick(t *testing.T) {
	rec := do(t, &enginetest.Client{}, http.MethodGet, "/v1.1/_health?quick=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersion(t *testing.T) {
	rec := do(t, &enginetest.Client{}, http.MethodGet, "/v1.1/_version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version": "v0.0.0-test"}`, rec.Body.String())
}
