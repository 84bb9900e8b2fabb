package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/dreyhq/drey/internal/backup"
	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/config"
	"github.com/dreyhq/drey/internal/roles"
	"github.com/dreyhq/drey/internal/shard"
	"github.com/dreyhq/drey/internal/store"
)

func main() {
	cfg, err := config.LoadShard(os.Getenv("DREY_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.GroupService == "" {
		fmt.Fprintf(os.Stderr, "Error: group_service (or DREY_GROUP_SERVICE) must be set\n")
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	instance := fmt.Sprintf("%s-shard-%d", cfg.InstanceName, cfg.Index)
	st, err := store.New(redisOpts, instance, cfg.Identity, cfg.Capacity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	if _, err := st.InitRoot(ctx, &store.Root{
		Name:      instance,
		Identity:  cfg.Identity,
		Index:     cfg.Index,
		Parent:    cfg.ParentIdentity,
		Available: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize root record: %v\n", err)
		os.Exit(1)
	}

	checker := roles.NewChecker(roles.NewHTTPService(cfg.GroupService, cfg.Identity))
	parent := cluster.NewParentClient(cfg.ParentAddr, cfg.Identity)
	registrar := shard.NewHTTPRegistrar(cfg.Identity)
	backups := backup.NewManager(st, cfg.ChunkMaxBytes)

	engine := shard.NewEngine(st, checker, parent, cfg.ParentIdentity, registrar, backups, cfg.Admins, cfg.InstanceName)
	server := shard.NewServer(engine, cfg.ListenAddr)

	fmt.Printf("Shard %s (index %d) starting for instance '%s' on %s\n",
		cfg.Identity, cfg.Index, cfg.InstanceName, cfg.ListenAddr)

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
