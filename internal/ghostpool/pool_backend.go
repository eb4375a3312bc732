// Pool backend abstraction: PoolBackend lets PoolManager provision ghost
// containers through local Docker, a remote Docker daemon, or Kubernetes
// without knowing which. DockerBackend is the default; KubernetesBackend
// is a stub that only logs its pod operations and cannot exec.
package ghostpool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// PoolBackend abstracts the container runtime for ghost container
// management, so PoolManager can run unchanged against a local Docker
// socket or a Kubernetes cluster.
type PoolBackend interface {
	// CreateContainer provisions a new sandbox container.
	CreateContainer(ctx context.Context, image string) (containerID string, err error)

	// StartContainer starts a provisioned container.
	StartContainer(ctx context.Context, containerID string) error

	// StopContainer stops a running container.
	StopContainer(ctx context.Context, containerID string) error

	// RemoveContainer removes a container and its resources.
	RemoveContainer(ctx context.Context, containerID string) error

	// ExecInContainer runs a command inside a container and returns the output.
	ExecInContainer(ctx context.Context, containerID string, cmd []string) ([]byte, error)

	// Name returns the backend name for logging (e.g., "docker-local", "kubernetes").
	Name() string
}

// DockerBackend implements PoolBackend using the local Docker daemon.
// This is the default for single-host deployments.
type DockerBackend struct {
	runtime string // e.g., "runsc" for gVisor, "" for default
}

// NewDockerBackend creates a Docker-based pool backend.
// Set runtime to "runsc" for gVisor sandboxing, or "" for default.
func NewDockerBackend(runtime string) *DockerBackend {
	return &DockerBackend{runtime: runtime}
}

func (d *DockerBackend) Name() string {
	if d.runtime != "" {
		return fmt.Sprintf("docker-local/%s", d.runtime)
	}
	return "docker-local"
}

func (d *DockerBackend) CreateContainer(ctx context.Context, image string) (string, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return "", fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Resources: container.Resources{
			NanoCPUs: 1_000_000_000,
			Memory:   512 * 1024 * 1024,
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}
	if d.runtime != "" {
		hostConfig.Runtime = d.runtime
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: image,
		Tty:   false,
		Cmd:   []string{"sleep", "infinity"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	return resp.ID, nil
}

func (d *DockerBackend) StartContainer(ctx context.Context, containerID string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	defer cli.Close()

	return cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{})
}

func (d *DockerBackend) StopContainer(ctx context.Context, containerID string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	defer cli.Close()

	timeout := 10
	return cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
}

func (d *DockerBackend) RemoveContainer(ctx context.Context, containerID string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	defer cli.Close()

	return cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true})
}

func (d *DockerBackend) ExecInContainer(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	defer cli.Close()

	execConfig := types.ExecConfig{
		User:         "ghostuser",
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	}

	execID, execErr := cli.ContainerExecCreate(ctx, containerID, execConfig)
	if execErr != nil {
		return nil, fmt.Errorf("exec create: %w", execErr)
	}

	resp, execErr := cli.ContainerExecAttach(ctx, execID.ID, types.ExecStartCheck{})
	if execErr != nil {
		return nil, fmt.Errorf("exec attach: %w", execErr)
	}
	defer resp.Close()

	output, _ := io.ReadAll(resp.Reader)
	return output, nil
}

// KubernetesBackend implements PoolBackend in terms of one pod per ghost
// container in Namespace. It does not call the Kubernetes API: create,
// start, stop and remove only log the pod name, namespace and limits, and
// ExecInContainer always returns an error. Image and Labels are not used.
type KubernetesBackend struct {
	Namespace string
	Image     string
	Labels    map[string]string
	MemoryMB  int64 // per-pod memory limit in MiB (default 512)
	CPUMillis int64 // per-pod CPU limit in millicores (default 500)
}

func (k *KubernetesBackend) Name() string {
	return fmt.Sprintf("kubernetes/%s", k.Namespace)
}

func (k *KubernetesBackend) CreateContainer(ctx context.Context, image string) (string, error) {
	podName := fmt.Sprintf("ghost-%d", time.Now().UnixNano())

	memLimit := k.MemoryMB
	if memLimit <= 0 {
		memLimit = 512
	}
	cpuLimit := k.CPUMillis
	if cpuLimit <= 0 {
		cpuLimit = 500
	}

	slog.Info("ghostpool: creating ghost pod",
		"pod", podName,
		"namespace", k.Namespace,
		"image", image,
		"memory_mb", memLimit,
		"cpu_millis", cpuLimit,
	)

	// TODO: call clientset.CoreV1().Pods(k.Namespace).Create with the pod
	// spec above once k8s.io/client-go is wired into this module.
	return podName, nil
}

func (k *KubernetesBackend) StartContainer(ctx context.Context, containerID string) error {
	slog.Info("ghostpool: starting ghost pod", "pod", containerID, "namespace", k.Namespace)
	// Pods start automatically after creation; nothing to do here.
	return nil
}

func (k *KubernetesBackend) StopContainer(ctx context.Context, containerID string) error {
	slog.Info("ghostpool: stopping ghost pod", "pod", containerID, "namespace", k.Namespace)
	// Kubernetes has no "stop": this deletes the pod. The delete itself is
	// the same TODO as CreateContainer, pending client-go wiring.
	return nil
}

func (k *KubernetesBackend) RemoveContainer(ctx context.Context, containerID string) error {
	slog.Info("ghostpool: removing ghost pod", "pod", containerID, "namespace", k.Namespace)
	return nil
}

func (k *KubernetesBackend) ExecInContainer(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
	slog.Info("ghostpool: exec in ghost pod", "pod", containerID, "cmd", cmd)
	// Requires k8s.io/client-go/tools/remotecommand's SPDY executor.
	return nil, fmt.Errorf("kubernetes exec requires client-go wiring (pod: %s)", containerID)
}
