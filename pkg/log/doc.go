/*
Package log provides structured logging for Strata using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers and configurable log levels. All logs include
timestamps.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  Global Logger (zerolog) ── initialized via log.Init()     │
	│        │                                                   │
	│        ├── WithComponent("replication")                    │
	│        ├── WithComponent("reconciler")                     │
	│        └── WithComponent("dispatch")                       │
	│                                                            │
	│  Output: JSON (production) or console (development)        │
	└────────────────────────────────────────────────────────────┘

Until Init is called the global Logger is the zero zerolog.Logger, which
discards everything. Tests rely on this.

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	logger := log.WithComponent("replication")
	logger.Warn().
		Uint64("container_id", c.ID).
		Int("required", 2).
		Int("found", 1).
		Msg("placement policy returned fewer targets than required")

# Field Conventions

  - component: emitting package ("replication", "dispatch", "reconciler", ...)
  - container_id: numeric container ID
  - node_id, source, target: datanode IDs
  - replica_index: EC shard index (0 for ratis)
*/
package log
