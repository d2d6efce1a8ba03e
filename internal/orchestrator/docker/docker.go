// Package docker implements the orchestrator.Client interface against the
// Docker Engine API. One container per job, labeled so that workloads can be
// found again after a restart and correlated with their records by name alone.
package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/estatedesk/jobrunner/internal/orchestrator"
)

const managedByLabel = "jobrunner"

// Client runs job workloads as Docker containers.
type Client struct {
	docker *client.Client
}

// NewClient creates a Docker-backed orchestrator client from the environment
// (DOCKER_HOST etc.).
func NewClient() (*Client, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{docker: dockerClient}, nil
}

// Ready checks that the Docker daemon is reachable.
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	return c.docker.Close()
}

// CreateJob pulls the workload image if needed, then creates and starts the
// container. Any error here is a launch failure for the caller to record.
func (c *Client) CreateJob(ctx context.Context, spec orchestrator.WorkloadSpec) (string, error) {
	name := orchestrator.WorkloadName(spec.Type, spec.JobID)

	// Detach the pull from the request context so an HTTP timeout on the
	// submission call cannot abort a pull that is nearly done.
	pullCtx := context.WithoutCancel(ctx)
	if err := c.pullImageIfNeeded(pullCtx, spec.Profile.Image); err != nil {
		return "", fmt.Errorf("pull image %s: %w", spec.Profile.Image, err)
	}

	env := []string{
		fmt.Sprintf("JOB_ID=%s", spec.JobID),
		fmt.Sprintf("JOB_TYPE=%s", spec.Type),
		fmt.Sprintf("TENANT_ID=%s", spec.TenantID),
		fmt.Sprintf("JOB_PAYLOAD=%s", string(spec.Payload)),
		fmt.Sprintf("JOB_TIMEOUT_SECONDS=%d", spec.Profile.TimeoutSeconds),
		fmt.Sprintf("JOB_MAX_RETRIES=%d", spec.Profile.MaxRetries),
	}
	if spec.CallbackURL != "" {
		env = append(env, fmt.Sprintf("CALLBACK_URL=%s", spec.CallbackURL))
	}

	containerConfig := &container.Config{
		Image: spec.Profile.Image,
		Env:   env,
		Labels: map[string]string{
			"managed-by":    managedByLabel,
			"job.id":        spec.JobID.String(),
			"job.type":      string(spec.Type),
			"job.tenant":    spec.TenantID.String(),
			"job.namespace": spec.Profile.Namespace,
		},
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(spec.Profile.CPULimit * 1e9),
			Memory:   int64(spec.Profile.MemoryLimit) * 1024 * 1024,
		},
	}

	resp, err := c.docker.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", name, err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Leave no half-launched container behind.
		_ = c.docker.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container %s: %w", name, err)
	}

	return name, nil
}

// DeleteJob stops and removes the workload container. A missing container is
// not an error: the workload may already have been reaped.
func (c *Client) DeleteJob(ctx context.Context, handle string) error {
	stopTimeout := 10
	if err := c.docker.ContainerStop(ctx, handle, container.StopOptions{Timeout: &stopTimeout}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop container %s: %w", handle, err)
	}
	if err := c.docker.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", handle, err)
	}
	return nil
}

// IsJobComplete inspects the container state. Exit code zero means success.
func (c *Client) IsJobComplete(ctx context.Context, handle string) (orchestrator.Completion, error) {
	inspect, err := c.docker.ContainerInspect(ctx, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			return orchestrator.Completion{}, orchestrator.ErrWorkloadNotFound
		}
		return orchestrator.Completion{}, fmt.Errorf("inspect container %s: %w", handle, err)
	}

	if inspect.State.Running || inspect.State.Status == "created" {
		return orchestrator.Completion{Complete: false}, nil
	}
	return orchestrator.Completion{
		Complete:  true,
		Succeeded: inspect.State.ExitCode == 0,
	}, nil
}

// GetJobLogs fetches up to tailLines lines of workload output. A missing
// container returns empty output, not an error.
func (c *Client) GetJobLogs(ctx context.Context, handle string, tailLines int) (string, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	}
	if tailLines > 0 {
		opts.Tail = strconv.Itoa(tailLines)
	}

	logs, err := c.docker.ContainerLogs(ctx, handle, opts)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("get container logs %s: %w", handle, err)
	}
	defer logs.Close()

	return demuxLogs(logs)
}

// demuxLogs strips the 8-byte multiplexing headers the Docker log stream
// prepends to each frame and returns the concatenated payload.
func demuxLogs(r io.Reader) (string, error) {
	var out []byte
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return string(out), nil
			}
			return "", fmt.Errorf("read log header: %w", err)
		}

		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size == 0 {
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return "", fmt.Errorf("read log payload: %w", err)
		}
		out = append(out, payload...)
	}
}

func (c *Client) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := c.docker.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := c.docker.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

var _ orchestrator.Client = (*Client)(nil)
