/*
Package types defines the shared data structures passed between the
vault manager's packages: VaultRecord (the Invigilator's bookkeeping
entry for one spawned vault worker) and ChunkStoreSummary (a
persistable count/size pair for a FileChunkStore; the store itself
still rebuilds its summary by walking its directory on restart).

Chunk content itself has no type here: pkg/chunkstore treats ids and
bytes opaquely, by design.
*/
package types
