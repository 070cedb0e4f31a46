package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/corralhq/corral/pkg/log"
)

// DockerEngine implements Engine against the local Docker daemon.
type DockerEngine struct {
	client *client.Client
}

// NewDockerEngine connects to the Docker daemon using the standard
// environment configuration (DOCKER_HOST etc).
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}
	return &DockerEngine{client: cli}, nil
}

// Close closes the Docker client connection.
func (e *DockerEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Ping verifies the Docker daemon is reachable.
func (e *DockerEngine) Ping(ctx context.Context) error {
	if _, err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// Run pulls the image, creates the container with the reserved
// resources, mounts and port bindings, and starts it. The container is
// not auto-removed on stop so a crashed container can be restarted in
// place.
func (e *DockerEngine) Run(ctx context.Context, spec ContainerSpec) (string, error) {
	// Pull every time so a refreshed tag in the registry wins.
	reader, err := e.client.ImagePull(ctx, spec.Image, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, port := range spec.Ports {
		inside, err := nat.NewPort("tcp", fmt.Sprintf("%d", port.InsidePort))
		if err != nil {
			return "", fmt.Errorf("invalid container port %d: %w", port.InsidePort, err)
		}
		exposed[inside] = struct{}{}
		bindings[inside] = append(bindings[inside], nat.PortBinding{
			HostPort: fmt.Sprintf("%d", port.OutsidePort),
		})
	}

	var binds []string
	for _, bind := range spec.Binds {
		entry := fmt.Sprintf("%s:%s", bind.HostPath, bind.ContainerPath)
		if bind.ReadOnly {
			entry += ":ro"
		}
		binds = append(binds, entry)
	}

	hostConfig := &container.HostConfig{
		Binds:        binds,
		PortBindings: bindings,
		ShmSize:      spec.ShmSizeBytes,
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}
	if len(spec.GPUDeviceIDs) > 0 {
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			DeviceIDs:    spec.GPUDeviceIDs,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	if spec.TmpfsPath != "" && spec.TmpfsSizeBytes > 0 {
		hostConfig.Tmpfs = map[string]string{
			spec.TmpfsPath: fmt.Sprintf("size=%d", spec.TmpfsSizeBytes),
		}
	}

	resp, err := e.client.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	logger := log.WithContainer(spec.Name)
	logger.Debug().Str("id", resp.ID).Msg("container started")
	return resp.ID, nil
}

// Stop stops the named container with a 10 second grace period.
func (e *DockerEngine) Stop(ctx context.Context, name string) error {
	timeout := 10
	if err := e.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// Remove removes the named container.
func (e *DockerEngine) Remove(ctx context.Context, name string) error {
	if err := e.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// Restart restarts the named container.
func (e *DockerEngine) Restart(ctx context.Context, name string) error {
	if err := e.client.ContainerRestart(ctx, name, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", name, err)
	}
	return nil
}

// Inspect returns the observed state of the named container.
func (e *DockerEngine) Inspect(ctx context.Context, name string) (*ContainerState, error) {
	info, err := e.client.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	state := &ContainerState{}
	if info.State != nil {
		state.Status = info.State.Status
		state.Running = info.State.Running
		state.ExitCode = info.State.ExitCode
		if startedAt, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			state.StartedAt = startedAt
		}
	}
	return state, nil
}

// ListRunning lists running containers whose names begin with the
// prefix. The Docker name filter matches substrings, so the prefix is
// re-checked here.
func (e *DockerEngine) ListRunning(ctx context.Context, namePrefix string) ([]RunningContainer, error) {
	list, err := e.client.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", namePrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var running []RunningContainer
	for _, entry := range list {
		for _, rawName := range entry.Names {
			name := strings.TrimPrefix(rawName, "/")
			if !strings.HasPrefix(name, namePrefix) {
				continue
			}
			// Reservation containers start right after create,
			// so the create time serves as the start time.
			running = append(running, RunningContainer{
				ID:        entry.ID,
				Name:      name,
				StartedAt: time.Unix(entry.Created, 0).UTC(),
			})
			break
		}
	}
	return running, nil
}

// SetPassword sets the password of a user inside the container via
// chpasswd.
func (e *DockerEngine) SetPassword(ctx context.Context, name, user, password string) error {
	command := fmt.Sprintf("/bin/echo '%s:%s' | /usr/sbin/chpasswd", user, password)
	exec, err := e.client.ContainerExecCreate(ctx, name, container.ExecOptions{
		User: "root",
		Cmd:  []string{"/bin/bash", "-c", command},
	})
	if err != nil {
		return fmt.Errorf("failed to create password exec in %s: %w", name, err)
	}
	if err := e.client.ContainerExecStart(ctx, exec.ID, container.ExecStartOptions{}); err != nil {
		return fmt.Errorf("failed to set password in %s: %w", name, err)
	}
	return nil
}
