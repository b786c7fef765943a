// Package cache implements the named-partition response store the worker
// caches into. A Storage addresses partitions by name (which embeds the
// deployment version suffix); each Partition maps request keys to buffered
// responses. Partitions are created lazily on Open and only ever removed as a
// whole, which is how a version bump reclaims stale entries. Backends: disk
// (temp file + rename), SQLite, Redis and an in-process map for tests.
package cache
