// Package config loads and validates the YAML configuration of the two
// drey daemons. Runtime identity (instance name, Redis URL, listen
// address) can be overridden through DREY_* environment variables so the
// same file serves every container of an instance.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultCapacity is the per-shard record ceiling.
	DefaultCapacity = 5000

	// DefaultChunkMaxBytes is the chunk payload ceiling for transfers.
	DefaultChunkMaxBytes = 2_000_000
)

// ShardConfig configures the shard daemon.
type ShardConfig struct {
	InstanceName   string `yaml:"instance_name"`
	Identity       string `yaml:"identity"`
	Index          uint64 `yaml:"index"`
	ListenAddr     string `yaml:"listen_addr"`
	RedisURL       string `yaml:"redis_url"`
	ParentIdentity string `yaml:"parent_identity"`
	ParentAddr     string `yaml:"parent_addr"`
	GroupService   string `yaml:"group_service"`
	Capacity       int64  `yaml:"capacity"`
	ChunkMaxBytes  int    `yaml:"chunk_max_bytes"`

	// Admins are the identities allowed on the raw-dump and backup
	// surfaces.
	Admins []string `yaml:"admins"`
}

// Validate performs strict validation on the shard configuration.
func (c *ShardConfig) Validate() error {
	if c.InstanceName == "" {
		return fmt.Errorf("instance_name is required")
	}
	if _, err := uuid.Parse(c.Identity); err != nil {
		return fmt.Errorf("identity must be a UUID: %w", err)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}
	if _, err := uuid.Parse(c.ParentIdentity); err != nil {
		return fmt.Errorf("parent_identity must be a UUID: %w", err)
	}
	if c.ParentAddr == "" {
		return fmt.Errorf("parent_addr is required")
	}
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	if c.ChunkMaxBytes < 1 {
		return fmt.Errorf("chunk_max_bytes must be at least 1, got %d", c.ChunkMaxBytes)
	}
	for _, admin := range c.Admins {
		if _, err := uuid.Parse(admin); err != nil {
			return fmt.Errorf("admin identity %q must be a UUID: %w", admin, err)
		}
	}
	return nil
}

// OrchestratorConfig configures the orchestrator daemon.
type OrchestratorConfig struct {
	InstanceName  string `yaml:"instance_name"`
	Identity      string `yaml:"identity"`
	ListenAddr    string `yaml:"listen_addr"`
	OwnAddr       string `yaml:"own_addr"`
	RedisURL      string `yaml:"redis_url"`
	NetworkName   string `yaml:"network_name"`
	ShardImage    string `yaml:"shard_image"`
	ShardRedisURL string `yaml:"shard_redis_url"`
	ShardPort     int    `yaml:"shard_port"`
	ShardCapacity int64  `yaml:"shard_capacity"`
	ChunkMaxBytes int    `yaml:"chunk_max_bytes"`

	// Admins are the identities allowed to push artifacts and trigger
	// upgrades.
	Admins []string `yaml:"admins"`
}

// Validate performs strict validation on the orchestrator configuration.
func (c *OrchestratorConfig) Validate() error {
	if c.InstanceName == "" {
		return fmt.Errorf("instance_name is required")
	}
	if _, err := uuid.Parse(c.Identity); err != nil {
		return fmt.Errorf("identity must be a UUID: %w", err)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.OwnAddr == "" {
		return fmt.Errorf("own_addr is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}
	if c.ShardImage == "" {
		return fmt.Errorf("shard_image is required")
	}
	if c.ShardPort < 1 || c.ShardPort > 65535 {
		return fmt.Errorf("shard_port must be a valid port, got %d", c.ShardPort)
	}
	if c.ShardCapacity < 1 {
		return fmt.Errorf("shard_capacity must be at least 1, got %d", c.ShardCapacity)
	}
	if c.ChunkMaxBytes < 1 {
		return fmt.Errorf("chunk_max_bytes must be at least 1, got %d", c.ChunkMaxBytes)
	}
	for _, admin := range c.Admins {
		if _, err := uuid.Parse(admin); err != nil {
			return fmt.Errorf("admin identity %q must be a UUID: %w", admin, err)
		}
	}
	return nil
}

// LoadShard reads and validates a shard configuration file, applying
// defaults and DREY_* environment overrides.
func LoadShard(path string) (*ShardConfig, error) {
	cfg := &ShardConfig{
		Capacity:      DefaultCapacity,
		ChunkMaxBytes: DefaultChunkMaxBytes,
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg.InstanceName, "DREY_INSTANCE_NAME")
	applyEnv(&cfg.Identity, "DREY_SHARD_IDENTITY")
	applyEnvUint(&cfg.Index, "DREY_SHARD_INDEX")
	applyEnv(&cfg.ListenAddr, "DREY_LISTEN_ADDR")
	applyEnv(&cfg.RedisURL, "REDIS_URL")
	applyEnv(&cfg.ParentIdentity, "DREY_PARENT_IDENTITY")
	applyEnv(&cfg.ParentAddr, "DREY_PARENT_ADDR")
	applyEnv(&cfg.GroupService, "DREY_GROUP_SERVICE")
	applyEnvInt64(&cfg.Capacity, "DREY_CAPACITY")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shard configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrchestrator reads and validates an orchestrator configuration
// file, applying defaults and DREY_* environment overrides.
func LoadOrchestrator(path string) (*OrchestratorConfig, error) {
	cfg := &OrchestratorConfig{
		ShardCapacity: DefaultCapacity,
		ChunkMaxBytes: DefaultChunkMaxBytes,
		ShardPort:     8090,
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg.InstanceName, "DREY_INSTANCE_NAME")
	applyEnv(&cfg.Identity, "DREY_IDENTITY")
	applyEnv(&cfg.ListenAddr, "DREY_LISTEN_ADDR")
	applyEnv(&cfg.OwnAddr, "DREY_OWN_ADDR")
	applyEnv(&cfg.RedisURL, "REDIS_URL")
	applyEnv(&cfg.NetworkName, "DREY_NETWORK_NAME")
	applyEnv(&cfg.ShardImage, "DREY_SHARD_IMAGE")
	applyEnv(&cfg.ShardRedisURL, "DREY_SHARD_REDIS_URL")

	if cfg.NetworkName == "" {
		cfg.NetworkName = fmt.Sprintf("drey-%s", cfg.InstanceName)
	}
	if cfg.ShardRedisURL == "" {
		cfg.ShardRedisURL = cfg.RedisURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator configuration: %w", err)
	}
	return cfg, nil
}

func loadYAML(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyEnvUint(target *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func applyEnvInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = parsed
		}
	}
}
