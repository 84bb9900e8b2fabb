package registry

import "fmt"

// Redis key pattern helpers for the orchestrator namespace.
//
// Key pattern: drey:{instance_name}:{entity}

// ShardKey returns the Redis key for one shard's registry entry.
// Pattern: drey:{instance_name}:shard:{identity}
func ShardKey(instanceName, identity string) string {
	return fmt.Sprintf("drey:%s:shard:%s", instanceName, identity)
}

// ShardIndexKey returns the Redis key for the set of registered shard
// identities.
// Pattern: drey:{instance_name}:shards
func ShardIndexKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:shards", instanceName)
}

// ArtifactKey returns the Redis key for the held code artifact.
// Pattern: drey:{instance_name}:artifact
func ArtifactKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:artifact", instanceName)
}
