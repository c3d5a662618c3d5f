package sandbox

import (
	"context"
	"fmt"
	"io"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerBackend runs each command in its own short-lived container built
// from a fixed image, selected via agent.json's "docker:<image>" sandbox
// setting.
type DockerBackend struct {
	client *client.Client
	image  string
}

// NewDockerBackend connects to the local Docker daemon using the same
// environment-based negotiation the host container tooling in this
// module's ancestry used.
func NewDockerBackend(image string) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerBackend{client: cli, image: image}, nil
}

func (b *DockerBackend) Name() string { return "docker:" + b.image }

func (b *DockerBackend) Close() error {
	return b.client.Close()
}

func (b *DockerBackend) Start(ctx context.Context, command, workDir string) (Handle, error) {
	resp, err := b.client.ContainerCreate(ctx,
		&dockercontainer.Config{
			Image:      b.image,
			Cmd:        []string{"sh", "-c", command},
			WorkingDir: workDir,
			Tty:        false,
		},
		&dockercontainer.HostConfig{AutoRemove: true},
		nil, nil, "",
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := b.client.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	logs, err := b.client.ContainerLogs(ctx, resp.ID, dockercontainer.LogsOptions{
		ShowStdout: true, ShowStderr: true, Follow: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach logs: %w", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		defer func() { _ = stdoutW.Close() }()
		defer func() { _ = stderrW.Close() }()
		_, _ = stdcopy.StdCopy(stdoutW, stderrW, logs)
	}()

	return &dockerHandle{
		client:      b.client,
		containerID: resp.ID,
		stdout:      stdoutR,
		stderr:      stderrR,
		logs:        logs,
	}, nil
}

type dockerHandle struct {
	client      *client.Client
	containerID string
	stdout      io.Reader
	stderr      io.Reader
	logs        io.ReadCloser
}

func (h *dockerHandle) Stdout() io.Reader { return h.stdout }
func (h *dockerHandle) Stderr() io.Reader { return h.stderr }

func (h *dockerHandle) Wait() (int, error) {
	ctx := context.Background()
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, dockercontainer.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("wait container: %w", err)
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

func (h *dockerHandle) Signal() error {
	return h.client.ContainerStop(context.Background(), h.containerID, dockercontainer.StopOptions{})
}

func (h *dockerHandle) Kill() error {
	return h.client.ContainerKill(context.Background(), h.containerID, "SIGKILL")
}
