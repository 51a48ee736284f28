package health

import (
	"context"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/joshrwolf/ecs/internal/action"
	"github.com/joshrwolf/ecs/internal/engine"
)

const actionName = "remote engine health checker"

// Callback receives the probe outcome exactly once
type Callback func(healthy bool, c *Checker)

// Checker probes the engine's version endpoint once
type Checker struct {
	client engine.Client
	once   action.Once
}

// New creates a single-use Checker
func New(client engine.Client) *Checker {
	return &Checker{client: client}
}

// Check issues the probe in the background and calls done with the result.
// The engine is healthy only when the probe answers 200; transport errors and
// every other status count as unhealthy. Calling Check more than once panics
// with an *action.UsageError.
func (c *Checker) Check(ctx context.Context, done Callback) {
	c.once.Enter(actionName)

	go func() {
		log := clog.FromContext(ctx)

		code, err := c.client.ProbeHealth(ctx)
		healthy := err == nil && code == http.StatusOK
		if healthy {
			log.Debug("engine healthy", "status", code)
		} else {
			log.Warn("engine unhealthy", "status", code, "error", err)
		}

		c.once.Complete(actionName)
		done(healthy, c)
	}()
}

// Healthy runs Check and waits for the answer
func (c *Checker) Healthy(ctx context.Context) bool {
	ch := make(chan bool, 1)
	c.Check(ctx, func(healthy bool, _ *Checker) {
		ch <- healthy
	})
	return <-ch
}
