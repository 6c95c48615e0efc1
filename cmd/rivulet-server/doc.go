// Package main provides the entry point for rivulet-server.
//
// The server is a RESP-compatible in-memory data store that provides:
//
//   - Strings, lists, hashes and append-only streams
//   - Client transactions (MULTI/EXEC) and blocking reads
//   - Asynchronous master/replica replication with WAIT
//   - Snapshot persistence and a Prometheus metrics endpoint
//
// Usage:
//
//	rivulet-server [flags]
//	rivulet-server --config /path/to/config.yaml
//	rivulet-server --replicaof 10.0.0.5:6379
//
// The server loads configuration, restores the local snapshot (master
// role) or syncs from its master (replica role), and starts the
// configured listeners.
package main
