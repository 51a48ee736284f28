package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"github.com/joshrwolf/ecs/internal/engine"
)

// managedLabel marks containers created by ecs
const managedLabel = "com.github.joshrwolf.ecs"

// Options configures the Docker engine client
type Options struct {
	// Host is the engine endpoint, e.g. "unix:///var/run/docker.sock" or
	// "tcp://127.0.0.1:4243". Empty uses DOCKER_HOST and friends.
	Host string

	// Memory limit applied to every container, e.g. "512m". Empty means no limit.
	Memory string

	// ForceRemove kills the container on delete if it is somehow still running
	ForceRemove bool
}

// Docker implements engine.Client against the Docker Engine remote API
type Docker struct {
	client client.APIClient
	memory int64
	force  bool
}

var _ engine.Client = (*Docker)(nil)

// New creates a Docker engine client
func New(opts Options) (*Docker, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return NewWithClient(cli, opts)
}

// NewWithClient wraps an existing API client
func NewWithClient(cli client.APIClient, opts Options) (*Docker, error) {
	d := &Docker{
		client: cli,
		force:  opts.ForceRemove,
	}

	if opts.Memory != "" {
		mem, err := units.RAMInBytes(opts.Memory)
		if err != nil {
			return nil, fmt.Errorf("parsing memory limit %q: %w", opts.Memory, err)
		}
		d.memory = mem
	}

	return d, nil
}

// PullImage implements engine.Client
func (d *Docker) PullImage(ctx context.Context, img, tag string) error {
	log := clog.FromContext(ctx)

	ref, err := engine.Reference(img, tag)
	if err != nil {
		return err
	}

	rc, err := d.client.ImagePull(ctx, ref.Name(), image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", ref, err)
	}
	defer rc.Close()

	// Errors such as an unknown manifest only show up inside the progress stream
	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("pulling %s: %w", ref, err)
	}

	log.Debug("pulled image", "ref", ref.Name())
	return nil
}

// RunContainer implements engine.Client
func (d *Docker) RunContainer(ctx context.Context, img, tag string, cmd []string) (string, error) {
	log := clog.FromContext(ctx)

	ref, err := engine.Reference(img, tag)
	if err != nil {
		return "", err
	}

	config := &container.Config{
		Image:  ref.Name(),
		Cmd:    cmd,
		Labels: map[string]string{managedLabel: "true"},
	}
	hostConfig := &container.HostConfig{}
	if d.memory > 0 {
		hostConfig.Memory = d.memory
	}

	created, err := d.client.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("creating container from %s: %w", ref, err)
	}
	for _, w := range created.Warnings {
		log.Warn("container create warning", "container", created.ID, "warning", w)
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container %s: %w", created.ID, err)
	}

	return created.ID, nil
}

// WaitForExit implements engine.Client
func (d *Docker) WaitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return 0, fmt.Errorf("waiting for container %s: %w", containerID, err)
	case resp := <-statusCh:
		if resp.Error != nil {
			return 0, fmt.Errorf("waiting for container %s: %s", containerID, resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	}
}

// FetchLogs implements engine.Client
func (d *Docker) FetchLogs(ctx context.Context, containerID string) ([]byte, []byte, error) {
	rc, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetching logs for container %s: %w", containerID, err)
	}
	defer rc.Close()

	// Containers run without a TTY, so the stream is multiplexed
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return nil, nil, fmt.Errorf("reading logs for container %s: %w", containerID, err)
	}

	return stdout.Bytes(), stderr.Bytes(), nil
}

// DeleteContainer implements engine.Client
func (d *Docker) DeleteContainer(ctx context.Context, containerID string) error {
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: d.force}); err != nil {
		return fmt.Errorf("removing container %s: %w", containerID, err)
	}
	return nil
}

// ProbeHealth implements engine.Client
func (d *Docker) ProbeHealth(ctx context.Context) (int, error) {
	u, err := client.ParseHostURL(d.client.DaemonHost())
	if err != nil {
		return 0, fmt.Errorf("parsing daemon host: %w", err)
	}

	httpClient := d.client.HTTPClient()

	// Socket transports ignore the URL host, the dialer already knows where to go
	scheme, host := "http", u.Host
	switch u.Scheme {
	case "unix", "npipe":
		host = client.DummyHost
	default:
		// Same rule the docker client applies: a TLS transport means https
		if tr, ok := httpClient.Transport.(*http.Transport); ok && tr.TLSClientConfig != nil {
			scheme = "https"
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s://%s/version", scheme, host), nil)
	if err != nil {
		return 0, fmt.Errorf("building probe request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", d.client.DaemonHost(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// String returns the engine name
func (d *Docker) String() string {
	return "docker"
}
