package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-units"
	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/logging"
)

const labelManagedBy = "webshell"

type DockerOrchestrator struct {
	// Host overrides DOCKER_HOST from the environment when set.
	Host string
	// ImageFilter limits ListContainers to images whose name contains it.
	ImageFilter string
	StopTimeout time.Duration

	client    *dockerclient.Client
	available bool
	log       *zap.Logger
}

func (d *DockerOrchestrator) Initialize(ctx context.Context) error {
	d.log = logging.Named("orchestrator").With(zap.String("backend", "docker"))

	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if d.Host != "" {
		opts = append(opts, dockerclient.WithHost(d.Host))
	}

	var err error
	d.client, err = dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	if err := d.Ping(ctx); err != nil {
		return err
	}

	d.available = true
	d.log.Info("Docker daemon connected", zap.String("host", d.client.DaemonHost()))
	return nil
}

func (d *DockerOrchestrator) IsAvailable(_ context.Context) bool {
	return d.available
}

func (d *DockerOrchestrator) BackendName() string {
	return "docker"
}

func (d *DockerOrchestrator) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

func (d *DockerOrchestrator) ensureImage(ctx context.Context, img string) error {
	if _, _, err := d.client.ImageInspectWithRaw(ctx, img); err == nil {
		return nil
	}

	d.log.Info("Pulling image", zap.String("image", img))
	reader, err := d.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	d.log.Info("Image pulled", zap.String("image", img))
	return nil
}

func (d *DockerOrchestrator) CreateContainer(ctx context.Context, params CreateParams) (*ContainerInfo, error) {
	if err := d.ensureImage(ctx, params.Image); err != nil {
		return nil, err
	}

	containerCfg := &container.Config{
		Image:        params.Image,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		OpenStdin:    true,
		StdinOnce:    false,
		Cmd:          []string{params.Shell},
		Labels:       map[string]string{"managed-by": labelManagedBy},
	}

	name := containerName(params.NamePrefix, time.Now())
	resp, err := d.client.ContainerCreate(ctx, containerCfg, &container.HostConfig{}, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", resp.ID, err)
	}

	info := &ContainerInfo{
		ID:    inspect.ID,
		Name:  strings.TrimPrefix(inspect.Name, "/"),
		Image: params.Image,
	}
	if inspect.State != nil {
		info.State = string(inspect.State.Status)
	}
	if created, err := time.Parse(time.RFC3339Nano, inspect.Created); err == nil {
		info.Created = created
		info.Age = units.HumanDuration(time.Since(created))
	}
	d.log.Info("Container created", zap.String("id", info.ID), zap.String("name", info.Name))
	return info, nil
}

func (d *DockerOrchestrator) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	summaries, err := d.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	now := time.Now()
	result := make([]ContainerInfo, 0, len(summaries))
	for _, s := range summaries {
		if !matchesImageFilter(s.Image, d.ImageFilter) {
			continue
		}
		result = append(result, summaryToInfo(s, now))
	}
	return result, nil
}

func (d *DockerOrchestrator) DeleteContainer(ctx context.Context, id string) error {
	timeout := int(d.StopTimeout.Seconds())
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	d.log.Info("Container removed", logging.Container(id))
	return nil
}

// getContainer resolves id and verifies it can host an exec.
func (d *DockerOrchestrator) getContainer(ctx context.Context, id string) (string, error) {
	inspect, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return "", fmt.Errorf("inspect container %s: %w", id, err)
	}
	if inspect.State == nil || !inspect.State.Running {
		return "", fmt.Errorf("%w: %s", ErrContainerNotRunning, id)
	}
	return inspect.ID, nil
}

func (d *DockerOrchestrator) ExecInteractive(ctx context.Context, id string, cmd []string) (*ExecSession, error) {
	containerID, err := d.getContainer(ctx, id)
	if err != nil {
		return nil, err
	}

	execCfg := container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		ConsoleSize:  &[2]uint{uint(DefaultConsoleSize.Rows), uint(DefaultConsoleSize.Cols)},
	}

	execID, err := d.client.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return nil, fmt.Errorf("exec create: %w", err)
	}

	resp, err := d.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}

	// Resizes outlive the attach request, so they must not inherit its ctx.
	resize := func(cols, rows uint16) error {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.client.ContainerExecResize(rctx, execID.ID, container.ResizeOptions{
			Width:  uint(cols),
			Height: uint(rows),
		})
	}

	// With Tty set the stream is raw, so Reader needs no demultiplexing.
	return NewExecSession(resp.Conn, resp.Reader, resize, func() error {
		_ = resp.CloseWrite()
		resp.Close()
		return nil
	}), nil
}

func containerName(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = labelManagedBy
	}
	return fmt.Sprintf("%s-%d", prefix, now.UnixMilli())
}

func matchesImageFilter(img, filter string) bool {
	return filter == "" || strings.Contains(img, filter)
}

func summaryToInfo(s container.Summary, now time.Time) ContainerInfo {
	info := ContainerInfo{
		ID:     s.ID,
		Image:  s.Image,
		State:  string(s.State),
		Status: s.Status,
	}
	if len(s.Names) > 0 {
		info.Name = strings.TrimPrefix(s.Names[0], "/")
	}
	if s.Created > 0 {
		info.Created = time.Unix(s.Created, 0)
		info.Age = units.HumanDuration(now.Sub(info.Created))
	}
	return info
}

// Ensure DockerOrchestrator implements ContainerOrchestrator
var _ ContainerOrchestrator = (*DockerOrchestrator)(nil)
