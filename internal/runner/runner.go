package runner

import (
	"context"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"github.com/joshrwolf/ecs/internal/action"
	"github.com/joshrwolf/ecs/internal/engine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	actionName = "end-to-end container runner"
	tracerName = "github.com/joshrwolf/ecs/internal/runner"
)

// Result is the single outcome of a run. ExitCode, Stdout and Stderr are only
// set when the run succeeded.
type Result struct {
	OK       bool
	Failure  FailureDetail
	Err      error
	ExitCode *int
	Stdout   []byte
	Stderr   []byte
}

// Callback receives the result of a run exactly once
type Callback func(Result, *Runner)

// state is where the runner is in its lifecycle. The active states are the
// stages themselves.
type state int

const (
	stateCreated   state = 0
	stateCompleted state = 100
	stateFailed    state = 101
)

func stageState(s Stage) state {
	return state(s)
}

// next is the state entered after st succeeds
func (st state) next() state {
	if st == stageState(DeletingContainer) {
		return stateCompleted
	}
	return st + 1
}

func (st state) terminal() bool {
	return st == stateCompleted || st == stateFailed
}

// Runner pulls an image, runs a container from it, waits for the container
// to exit, collects its output and deletes it. A Runner executes once.
type Runner struct {
	client engine.Client
	req    engine.Request
	cid    string
	tracer trace.Tracer

	once action.Once

	// working data, owned by the driving goroutine
	state       state
	containerID string
	exitCode    int
	stdout      []byte
	stderr      []byte

	mu      sync.Mutex
	failure *FailureDetail
}

// Option configures a Runner
type Option func(*Runner)

// WithTracerProvider sets the provider used for run and stage spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// New creates a Runner for req. Every Runner gets its own correlation ID.
func New(client engine.Client, req engine.Request, opts ...Option) *Runner {
	r := &Runner{
		client: client,
		req:    req,
		cid:    strings.ReplaceAll(uuid.NewString(), "-", ""),
		tracer: otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CorrelationID identifies this run in logs and traces
func (r *Runner) CorrelationID() string {
	return r.cid
}

// Request returns the request the runner was created with
func (r *Runner) Request() engine.Request {
	return r.req
}

// FailureDetail returns the outcome of a finished run. The second value is
// false while the run is still in flight.
func (r *Runner) FailureDetail() (FailureDetail, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		return FailureDetail{}, false
	}
	return *r.failure, true
}

// Start begins the run and returns immediately; done is called once the run
// completes or fails. Calling Start more than once panics with an
// *action.UsageError.
func (r *Runner) Start(ctx context.Context, done Callback) {
	r.once.Enter(actionName)

	log := clog.FromContext(ctx).With(
		"cid", r.cid,
		"image", r.req.Image,
		"tag", r.req.Tag,
		"cmd", strings.Join(r.req.Cmd, " "),
	)
	ctx = clog.WithLogger(ctx, log)

	go r.drive(ctx, done)
}

// Run starts the runner and blocks until it finishes
func (r *Runner) Run(ctx context.Context) Result {
	ch := make(chan Result, 1)
	r.Start(ctx, func(res Result, _ *Runner) {
		ch <- res
	})
	return <-ch
}

func (r *Runner) drive(ctx context.Context, done Callback) {
	ctx, span := r.tracer.Start(ctx, "ecs.run", trace.WithAttributes(
		attribute.String("ecs.cid", r.cid),
		attribute.String("ecs.image", r.req.Image),
		attribute.String("ecs.tag", r.req.Tag),
	))
	defer span.End()

	for r.state = stageState(PullingImage); !r.state.terminal(); r.state = r.state.next() {
		s := Stage(r.state)
		if err := r.enter(ctx, s); err != nil {
			r.state = stateFailed
			serr := &StageError{Stage: s, Err: err}
			span.SetStatus(codes.Error, serr.Error())
			r.complete(done, Result{Failure: Failed(s), Err: serr})
			return
		}
	}

	exitCode := r.exitCode
	r.complete(done, Result{
		OK:       true,
		Failure:  Succeeded,
		ExitCode: &exitCode,
		Stdout:   r.stdout,
		Stderr:   r.stderr,
	})
}

// enter runs the entry action of stage s and records what it produced
func (r *Runner) enter(ctx context.Context, s Stage) error {
	ctx, span := r.tracer.Start(ctx, "ecs.stage."+s.String())
	defer span.End()

	log := clog.FromContext(ctx)
	if r.containerID != "" {
		log = log.With("container", r.containerID)
		span.SetAttributes(attribute.String("ecs.container", r.containerID))
	}
	log.Infof("attempting %s", s)

	attrs, err := steps[s](r, ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("error "+s.String(), "error", err)
		return err
	}

	log.With(attrs...).Infof("finished %s", s)
	return nil
}

// step is the entry action of a stage. It returns log attributes describing
// what the stage produced.
type step func(r *Runner, ctx context.Context) ([]any, error)

var steps = [...]step{
	PullingImage:      (*Runner).pullImage,
	RunningContainer:  (*Runner).runContainer,
	WaitingForExit:    (*Runner).waitForExit,
	FetchingLogs:      (*Runner).fetchLogs,
	DeletingContainer: (*Runner).deleteContainer,
}

func (r *Runner) pullImage(ctx context.Context) ([]any, error) {
	return nil, r.client.PullImage(ctx, r.req.Image, r.req.Tag)
}

func (r *Runner) runContainer(ctx context.Context) ([]any, error) {
	id, err := r.client.RunContainer(ctx, r.req.Image, r.req.Tag, r.req.Cmd)
	if err != nil {
		return nil, err
	}
	r.containerID = id
	return []any{"container", id}, nil
}

func (r *Runner) waitForExit(ctx context.Context) ([]any, error) {
	code, err := r.client.WaitForExit(ctx, r.containerID)
	if err != nil {
		return nil, err
	}
	r.exitCode = code
	return []any{"exit_code", code}, nil
}

func (r *Runner) fetchLogs(ctx context.Context) ([]any, error) {
	stdout, stderr, err := r.client.FetchLogs(ctx, r.containerID)
	if err != nil {
		return nil, err
	}
	r.stdout, r.stderr = stdout, stderr
	return []any{"stdout_bytes", len(stdout), "stderr_bytes", len(stderr)}, nil
}

func (r *Runner) deleteContainer(ctx context.Context) ([]any, error) {
	return nil, r.client.DeleteContainer(ctx, r.containerID)
}

func (r *Runner) complete(done Callback, res Result) {
	r.once.Complete(actionName)

	r.mu.Lock()
	failure := res.Failure
	r.failure = &failure
	r.mu.Unlock()

	done(res, r)
}
