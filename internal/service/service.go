// Package service exposes end-to-end container runs and engine health over HTTP.
package service

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joshrwolf/ecs/internal/config"
	"github.com/joshrwolf/ecs/internal/engine"
	"github.com/joshrwolf/ecs/internal/health"
	"github.com/joshrwolf/ecs/internal/runner"
	"github.com/xeipuuv/gojsonschema"
)

const maxRequestBytes = 64 * 1024 // 64KB

const taskSchemaJSON = `{
	"type": "object",
	"properties": {
		"docker_image": {"type": "string", "minLength": 1},
		"tag": {"type": "string", "minLength": 1},
		"cmd": {
			"oneOf": [
				{"type": "string"},
				{"type": "array", "items": {"type": "string"}}
			]
		}
	},
	"required": ["docker_image", "tag", "cmd"],
	"additionalProperties": false
}`

var taskSchema *gojsonschema.Schema

func init() {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(taskSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("compiling task schema: %v", err))
	}
	taskSchema = s
}

type taskRequest struct {
	DockerImage string          `json:"docker_image"`
	Tag         string          `json:"tag"`
	Cmd         json.RawMessage `json:"cmd"`
}

type taskResponse struct {
	ExitCode int    `json:"exitCode"`
	Stdout   []byte `json:"stdout"`
	Stderr   []byte `json:"stderr"`
}

// Options configures a Service
type Options struct {
	// Version is reported by the version endpoint
	Version string

	// MaxConcurrentRequests caps task requests in flight. Requests over the
	// cap are turned away with 503. Zero uses config.DefaultMaxConcurrentRequests.
	MaxConcurrentRequests int
}

// Service serves the ecs HTTP API
type Service struct {
	client     engine.Client
	version    string
	limit      int
	runnerOpts []runner.Option
}

// New creates a Service backed by client
func New(client engine.Client, opts Options, runnerOpts ...runner.Option) *Service {
	limit := opts.MaxConcurrentRequests
	if limit < 1 {
		limit = config.DefaultMaxConcurrentRequests
	}
	return &Service{
		client:     client,
		version:    opts.Version,
		limit:      limit,
		runnerOpts: runnerOpts,
	}
}

// Routes returns the service's HTTP handler
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Only task runs hold engine resources; health stays answerable when saturated
	throttle := middleware.ThrottleWithOpts(middleware.ThrottleOpts{
		Limit:      s.limit,
		StatusCode: http.StatusServiceUnavailable,
	})

	r.Route("/v1.1", func(r chi.Router) {
		r.With(throttle).Post("/tasks", s.CreateTask)
		r.Get("/_health", s.Health)
		r.Get("/_version", s.Version)
	})

	return r
}

// requestLogger attaches a request scoped logger to the context
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := clog.FromContext(ctx).With(
			"request_id", middleware.GetReqID(ctx),
			"method", r.Method,
			"path", r.URL.Path,
		)
		next.ServeHTTP(w, r.WithContext(clog.WithLogger(ctx, log)))
	})
}

// CreateTask runs a container end to end and reports its exit code and output
func (s *Service) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := clog.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}

	result, err := taskSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request", "details": msgs})
		return
	}

	var tr taskRequest
	if err := json.Unmarshal(body, &tr); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	cmd, err := parseCmd(tr.Cmd)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := runner.New(s.client, engine.Request{Image: tr.DockerImage, Tag: tr.Tag, Cmd: cmd}, s.runnerOpts...)
	w.Header().Set("X-ECS-Correlation-ID", run.CorrelationID())

	res := run.Run(r.Context())
	if !res.OK {
		req := run.Request()
		log.Error("task failed",
			"cid", run.CorrelationID(),
			"image", req.Image,
			"tag", req.Tag,
			"failure", res.Failure,
			"error", res.Err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   res.Err.Error(),
			"failure": res.Failure.String(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, taskResponse{
		ExitCode: *res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	})
}

// parseCmd accepts either a shell-style string or an argument list
func parseCmd(raw json.RawMessage) ([]string, error) {
	var args []string
	if err := json.Unmarshal(raw, &args); err == nil {
		return args, nil
	}

	var line string
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, fmt.Errorf("cmd must be a string or a list of strings")
	}
	return engine.SplitCommand(line)
}

// Health reports service health. Unless quick is false the engine is not probed.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	quick := true
	if q := r.URL.Query().Get("quick"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid quick value %q", q))
			return
		}
		quick = v
	}

	if quick {
		writeJSON(w, http.StatusOK, map[string]any{"status": "green"})
		return
	}

	status, code := "green", http.StatusOK
	if !health.New(s.client).Healthy(r.Context()) {
		status, code = "red", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"details": map[string]any{
			"engine": map[string]string{"connectivity": status},
		},
	})
}

// Version reports the service version
func (s *Service) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
