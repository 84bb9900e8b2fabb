package store

import "fmt"

// Redis key pattern helpers
//
// All keys are namespaced by instance name so multiple drey instances can
// safely coexist on a single Redis server.
//
// Key pattern: drey:{instance_name}:{entity}

// RootKey returns the Redis key for the shard root record.
// Pattern: drey:{instance_name}:root
func RootKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:root", instanceName)
}

// EventKey returns the Redis key for a stored event.
// Pattern: drey:{instance_name}:event:{identifier}
func EventKey(instanceName, identifier string) string {
	return fmt.Sprintf("drey:%s:event:%s", instanceName, identifier)
}

// EventIndexKey returns the Redis key for the event identifier index set.
// Set cardinality doubles as the occupancy counter for the capacity check.
// Pattern: drey:{instance_name}:events
func EventIndexKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:events", instanceName)
}

// SequenceKey returns the Redis key for the monotonic sequence counter.
// Pattern: drey:{instance_name}:next_entry
func SequenceKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:next_entry", instanceName)
}

// BackupChunkKey returns the Redis key for one chunk of a staged backup.
// Pattern: drey:{instance_name}:backup:{chunk_index}
func BackupChunkKey(instanceName string, chunk int) string {
	return fmt.Sprintf("drey:%s:backup:%d", instanceName, chunk)
}

// BackupIndexKey returns the Redis key tracking how many backup chunks are
// staged.
// Pattern: drey:{instance_name}:backup_chunks
func BackupIndexKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:backup_chunks", instanceName)
}
