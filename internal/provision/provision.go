// Package provision spawns shard processes. The orchestrator engine only
// sees the Provisioner interface; the Docker implementation launches one
// container per shard on the instance network, and tests substitute an
// in-process fake.
package provision

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

// ShardSpec describes the shard to spawn.
type ShardSpec struct {
	Identity       string
	Index          uint64
	Image          string
	ParentIdentity string
	ParentAddr     string
	RedisURL       string
	Capacity       int64
}

// Unit is a spawned shard process.
type Unit struct {
	Identity    string
	Addr        string
	ContainerID string
}

// Provisioner spawns and removes shard processes.
type Provisioner interface {
	Spawn(ctx context.Context, spec ShardSpec) (Unit, error)
	Remove(ctx context.Context, unit Unit) error
}

// DockerProvisioner launches shard containers on the instance network.
// Containers resolve each other by name through Docker's embedded DNS, so
// a shard's address is its container name.
type DockerProvisioner struct {
	dockerClient *client.Client
	instanceName string
	networkName  string
	shardPort    int
}

// NewDockerProvisioner builds a provisioner for the given instance.
func NewDockerProvisioner(dockerClient *client.Client, instanceName, networkName string, shardPort int) *DockerProvisioner {
	return &DockerProvisioner{
		dockerClient: dockerClient,
		instanceName: instanceName,
		networkName:  networkName,
		shardPort:    shardPort,
	}
}

// ContainerName returns the deterministic container name for a shard.
// Pattern: drey-{instance}-shard-{index}
func (p *DockerProvisioner) ContainerName(index uint64) string {
	return fmt.Sprintf("drey-%s-shard-%d", p.instanceName, index)
}

// Spawn creates and starts a shard container. A container that fails to
// start is force-removed so a retry can reuse the name.
func (p *DockerProvisioner) Spawn(ctx context.Context, spec ShardSpec) (Unit, error) {
	identity := spec.Identity
	if identity == "" {
		identity = uuid.New().String()
	}
	containerName := p.ContainerName(spec.Index)
	addr := fmt.Sprintf("http://%s:%d", containerName, p.shardPort)

	containerConfig := &container.Config{
		Image: spec.Image,
		Env: []string{
			fmt.Sprintf("DREY_INSTANCE_NAME=%s", p.instanceName),
			fmt.Sprintf("DREY_SHARD_IDENTITY=%s", identity),
			fmt.Sprintf("DREY_SHARD_INDEX=%d", spec.Index),
			fmt.Sprintf("DREY_PARENT_IDENTITY=%s", spec.ParentIdentity),
			fmt.Sprintf("DREY_PARENT_ADDR=%s", spec.ParentAddr),
			fmt.Sprintf("DREY_LISTEN_ADDR=:%d", p.shardPort),
			fmt.Sprintf("DREY_CAPACITY=%d", spec.Capacity),
			fmt.Sprintf("REDIS_URL=%s", spec.RedisURL),
		},
		Labels: map[string]string{
			"drey.instance": p.instanceName,
			"drey.role":     "shard",
			"drey.identity": identity,
		},
	}
	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(p.networkName),
		AutoRemove:  false,
	}

	resp, err := p.dockerClient.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return Unit{}, fmt.Errorf("failed to create shard container: %w", err)
	}

	if err := p.dockerClient.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		_ = p.dockerClient.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return Unit{}, fmt.Errorf("failed to start shard container: %w", err)
	}

	return Unit{Identity: identity, Addr: addr, ContainerID: resp.ID}, nil
}

// Remove force-removes a shard container.
func (p *DockerProvisioner) Remove(ctx context.Context, unit Unit) error {
	if unit.ContainerID == "" {
		return nil
	}
	if err := p.dockerClient.ContainerRemove(ctx, unit.ContainerID, types.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove shard container: %w", err)
	}
	return nil
}
