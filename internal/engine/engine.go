package engine

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/shlex"
)

// Client talks to a remote container engine. Each call is single-shot and
// blocks until the engine answers; a non-nil error means the call failed.
type Client interface {
	// PullImage pulls image:tag onto the engine
	PullImage(ctx context.Context, image, tag string) error

	// RunContainer creates and starts a container, returning its ID
	RunContainer(ctx context.Context, image, tag string, cmd []string) (string, error)

	// WaitForExit blocks until the container stops and returns its exit code
	WaitForExit(ctx context.Context, containerID string) (int, error)

	// FetchLogs returns the container's stdout and stderr
	FetchLogs(ctx context.Context, containerID string) (stdout, stderr []byte, err error)

	// DeleteContainer removes the container
	DeleteContainer(ctx context.Context, containerID string) error

	// ProbeHealth issues a GET against the engine's version endpoint and
	// returns the HTTP status code
	ProbeHealth(ctx context.Context) (int, error)
}

// Request describes a single end-to-end container execution
type Request struct {
	// Image name, e.g. "alpine" or "ghcr.io/org/tool"
	Image string

	// Tag to pull, e.g. "3.18"
	Tag string

	// Command to run; empty uses the image's default CMD
	Cmd []string
}

// Reference returns the fully qualified image reference for image:tag.
func Reference(image, tag string) (name.Tag, error) {
	ref, err := name.NewTag(fmt.Sprintf("%s:%s", image, tag))
	if err != nil {
		return name.Tag{}, fmt.Errorf("parsing image reference %s:%s: %w", image, tag, err)
	}
	return ref, nil
}

// SplitCommand splits a shell-style command line into its arguments.
func SplitCommand(cmd string) ([]string, error) {
	args, err := shlex.Split(cmd)
	if err != nil {
		return nil, fmt.Errorf("splitting command %q: %w", cmd, err)
	}
	return args, nil
}
