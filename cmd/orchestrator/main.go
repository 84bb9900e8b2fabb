package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	dockerclient "github.com/docker/docker/client"
	"github.com/redis/go-redis/v9"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/config"
	"github.com/dreyhq/drey/internal/orchestrator"
	"github.com/dreyhq/drey/internal/provision"
	"github.com/dreyhq/drey/internal/registry"
)

func main() {
	cfg, err := config.LoadOrchestrator(os.Getenv("DREY_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	reg, err := registry.New(redisOpts, cfg.InstanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create registry: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	ctx := context.Background()
	if err := reg.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	docker, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create Docker client: %v\n", err)
		os.Exit(1)
	}
	if _, err := docker.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Docker not accessible: %v\n", err)
		os.Exit(1)
	}

	provisioner := provision.NewDockerProvisioner(docker, cfg.InstanceName, cfg.NetworkName, cfg.ShardPort)
	factory := func(addr string) orchestrator.ShardCaller {
		return cluster.NewShardClient(addr, cfg.Identity)
	}

	engine := orchestrator.NewEngine(reg, provisioner, factory, orchestrator.Options{
		Identity:      cfg.Identity,
		InstanceName:  cfg.InstanceName,
		Admins:        cfg.Admins,
		ShardImage:    cfg.ShardImage,
		ShardRedisURL: cfg.ShardRedisURL,
		ShardCapacity: cfg.ShardCapacity,
		OwnAddr:       cfg.OwnAddr,
		ChunkMaxBytes: cfg.ChunkMaxBytes,
	})

	if err := engine.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	server := orchestrator.NewServer(engine, cfg.ListenAddr)
	fmt.Printf("Orchestrator %s starting for instance '%s' on %s\n",
		cfg.Identity, cfg.InstanceName, cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Printf("Received %s, shutting down\n", sig)
		if err := server.Shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Shutdown failed: %v\n", err)
			os.Exit(1)
		}
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "Error: Server failed: %v\n", err)
		os.Exit(1)
	}
}
