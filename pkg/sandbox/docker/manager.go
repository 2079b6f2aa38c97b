// Package docker provisions and reaps sandbox containers through the Docker
// Engine API. Provisioning is all-or-nothing: the caller gets either a fully
// addressable sandbox or an error with any partially created container
// already cleaned up.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/warrenlabs/warren/pkg/config"
	"github.com/warrenlabs/warren/pkg/sandbox"
)

const (
	// LabelManaged marks containers created by this manager.
	LabelManaged = "warren.managed"
	// LabelSession records which logical session owns the container.
	LabelSession = "warren.session"

	// Chrome needs a large shared memory segment or it crashes tabs.
	shmSize = 2 << 30
)

// Manager talks to the container runtime. It is safe for concurrent use;
// each sandbox lifecycle is independent.
type Manager struct {
	cli *client.Client
}

// New connects to the Docker daemon using the standard environment
// configuration (DOCKER_HOST et al.).
func New() (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Manager{cli: cli}, nil
}

// Close releases the Docker client resources.
func (m *Manager) Close() error {
	return m.cli.Close()
}

// Provision creates a sandbox container from cfg and resolves its network
// address. sessionID, when non-empty, is recorded as a label for
// attribution. On success exactly one running container exists; on failure
// none does (partially created containers are removed best-effort).
func (m *Manager) Provision(ctx context.Context, cfg config.Sandbox, sessionID string) (*sandbox.Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &sandbox.ProvisionError{Kind: sandbox.KindCreateFailed, Err: err}
	}

	name := containerName(cfg.NamePrefix)

	containerCfg := &container.Config{
		Image: cfg.Image,
		Env:   cfg.Env(),
		Labels: map[string]string{
			LabelManaged: "true",
		},
		ExposedPorts: nat.PortSet{
			nat.Port(fmt.Sprintf("%d/tcp", sandbox.DefaultAPIPort)): {},
			nat.Port(fmt.Sprintf("%d/tcp", sandbox.DefaultCDPPort)): {},
		},
	}
	if sessionID != "" {
		containerCfg.Labels[LabelSession] = sessionID
	}

	hostCfg := &container.HostConfig{
		AutoRemove: true,
		ShmSize:    shmSize,
	}

	var netCfg *network.NetworkingConfig
	if cfg.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				cfg.Network: {},
			},
		}
	}

	created, err := m.cli.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return nil, &sandbox.ProvisionError{Kind: classifyCreateError(err), ContainerName: name, Err: err}
	}

	if err := m.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		m.removeBestEffort(created.ID)
		return nil, &sandbox.ProvisionError{Kind: sandbox.KindCreateFailed, ContainerName: name, Err: fmt.Errorf("starting container: %w", err)}
	}

	// Re-query for the runtime-assigned address. A container that exited
	// immediately resolves to nothing and is a fatal provisioning error.
	inspected, err := m.cli.ContainerInspect(ctx, created.ID)
	if err != nil {
		m.removeBestEffort(created.ID)
		return nil, &sandbox.ProvisionError{Kind: sandbox.KindUnaddressable, ContainerName: name, Err: fmt.Errorf("inspecting container: %w", err)}
	}
	address := resolveAddress(inspected)
	if address == "" {
		m.removeBestEffort(created.ID)
		return nil, &sandbox.ProvisionError{Kind: sandbox.KindUnaddressable, ContainerName: name,
			Err: fmt.Errorf("container has no network address (state: %s)", inspected.State.Status)}
	}

	slog.Info("Sandbox container provisioned",
		"name", name, "id", created.ID[:12], "address", address, "image", cfg.Image, "session", sessionID)
	return sandbox.New(name, created.ID, address, cfg), nil
}

// Destroy force-removes the sandbox's container and releases the handle's
// local resources. A container that is already gone counts as success:
// destruction is about the desired end state, not about work performed.
// Errors never escape; failures are logged and reported as false.
func (m *Manager) Destroy(ctx context.Context, sb *sandbox.Sandbox) bool {
	// Release local sockets first, regardless of what the runtime says.
	sb.Close()

	if err := sb.SetState(sandbox.StateDestroying); err != nil {
		slog.Warn("Destroying sandbox from unexpected state", "sandbox", sb.Name, "error", err)
	}

	err := m.cli.ContainerRemove(ctx, sb.Name, types.ContainerRemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		slog.Error("Failed to remove sandbox container", "sandbox", sb.Name, "error", err)
		return false
	}

	if err := sb.SetState(sandbox.StateDestroyed); err != nil {
		slog.Warn("Could not mark sandbox destroyed", "sandbox", sb.Name, "error", err)
	}
	slog.Info("Sandbox destroyed", "sandbox", sb.Name, "alreadyGone", errdefs.IsNotFound(err))
	return true
}

// ListManaged returns all containers created by this manager, running or
// not, so stray sandboxes can be attributed and cleaned up.
func (m *Manager) ListManaged(ctx context.Context) ([]types.Container, error) {
	return m.cli.ContainerList(ctx, types.ContainerListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManaged+"=true"),
		),
	})
}

func (m *Manager) removeBestEffort(id string) {
	// Detached from the caller's context: cleanup should still run when
	// provisioning failed because that context expired.
	if err := m.cli.ContainerRemove(context.Background(), id, types.ContainerRemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("Failed to clean up partially created container", "id", id, "error", err)
	}
}

// containerName combines the prefix with a fresh random suffix, giving a
// collision-resistant name that still sorts by prefix in listings.
func containerName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// resolveAddress extracts the container IP, preferring the default bridge
// field and falling back to the first non-empty per-network address (the
// top-level field is blank for user-defined networks).
func resolveAddress(c types.ContainerJSON) string {
	if c.NetworkSettings == nil {
		return ""
	}
	if ip := c.NetworkSettings.IPAddress; ip != "" {
		return ip
	}
	for _, ep := range c.NetworkSettings.Networks {
		if ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}

// classifyCreateError maps a Docker create failure onto the provisioning
// taxonomy. Image and network lookups both surface as not-found; the message
// disambiguates them.
func classifyCreateError(err error) sandbox.ProvisionKind {
	switch {
	case client.IsErrConnectionFailed(err):
		return sandbox.KindRuntimeUnavailable
	case errdefs.IsConflict(err):
		return sandbox.KindNameConflict
	case errdefs.IsNotFound(err):
		if strings.Contains(err.Error(), "network") {
			return sandbox.KindNetworkNotFound
		}
		return sandbox.KindImageNotFound
	default:
		return sandbox.KindCreateFailed
	}
}
