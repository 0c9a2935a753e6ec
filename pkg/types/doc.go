/*
Package types defines the data structures shared by the reconciliation engine,
the management client and the storage layer.

# Core Types

Workers:
  - WorkerRecord: hostname, executors, labels and optional endpoint of one worker
  - Credentials: administrative username/password for the coordinator API

Relation instances:
  - RelationState: persisted phase and flags of one remote unit on one relation
  - Flags: connected, available and tls.available
  - Phase: idle, connected, available, retired

Events:
  - RelationEvent: one lifecycle delivery with a snapshot of the remote fields
  - EventKind: joined, changed, departed, broken

# Invariants

Flags.Available implies Flags.Connected. Departed and broken events clear both
together. A WorkerRecord is only built once hostname, executors and labels are
all present; see package relation.

Executor counts are multiplied by ExecutorMultiplier before they are sent to
the coordinator:

	rec := &types.WorkerRecord{Hostname: "slave-0", Executors: 4}
	rec.EffectiveExecutors() // 8
*/
package types
