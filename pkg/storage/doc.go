/*
Package storage persists relation instance state between hook invocations.

Each hook run is a separate process, so the phase and flags of every
(relation id, remote unit) pair live in a BoltDB file under the state
directory:

	<state_dir>/relay.db
	  relations/  "<relation id>|<remote unit>" → JSON types.RelationState
	  published/  "<relation id>"               → JSON map of published fields

PutPublished merges into what was already published, so the URL published on
joined and the credentials published later end up in one map.

MemoryStore implements the same interface for tests and embedding.
*/
package storage
