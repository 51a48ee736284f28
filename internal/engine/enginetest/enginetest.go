// Package enginetest provides a mock engine.Client for tests.
package enginetest

import (
	"context"

	"github.com/joshrwolf/ecs/internal/engine"
	"github.com/stretchr/testify/mock"
)

// Client is a testify mock of engine.Client
type Client struct {
	mock.Mock
}

var _ engine.Client = (*Client)(nil)

func (m *Client) PullImage(ctx context.Context, image, tag string) error {
	args := m.Called(ctx, image, tag)
	return args.Error(0)
}

func (m *Client) RunContainer(ctx context.Context, image, tag string, cmd []string) (string, error) {
	args := m.Called(ctx, image, tag, cmd)
	return args.String(0), args.Error(1)
}

func (m *Client) WaitForExit(ctx context.Context, containerID string) (int, error) {
	args := m.Called(ctx, containerID)
	return args.Int(0), args.Error(1)
}

func (m *Client) FetchLogs(ctx context.Context, containerID string) ([]byte, []byte, error) {
	args := m.Called(ctx, containerID)
	stdout, _ := args.Get(0).([]byte)
	stderr, _ := args.Get(1).([]byte)
	return stdout, stderr, args.Error(2)
}

func (m *Client) DeleteContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *Client) ProbeHealth(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
