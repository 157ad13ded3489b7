/*
Package chunkstore implements the three content-addressed chunk stores and
the ChunkActionAuthority policy interface.

MemoryChunkStore holds everything in a map. FileChunkStore persists each
chunk as a file named "<hex(id)>.<refcount>" under a sharded directory
tree, so a reference-count change is a single rename. BufferedChunkStore
layers a FIFO in-memory cache over a FileChunkStore: writes land in the
cache immediately and are enqueued for the permanent layer on a single
background goroutine, with a deletion-mark/reinstatement lifecycle that
lets a PermanentStore call undo a pending deletion instead of bumping the
reference count.

None of the three inspect chunk ids beyond comparing them against the
hash of their own bytes. Everything about what an id "means" — who may
modify it, who may delete it — is left to an Authority implementation
supplied by the caller.
*/
package chunkstore
