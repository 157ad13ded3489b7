/*
Package manager implements the Invigilator side of the vault manager:
ClientConnections (C6), the per-connection challenge/signature state
machine, and Invigilator (C7), the long-lived supervisor that binds
the loopback listener, spawns vault worker processes via os/exec,
tracks them through the identity/join handshake, restarts them with
exponential backoff on unexpected exit, and periodically checks for a
new vault build to announce to connected clients.

Every vault record the Invigilator holds in memory is also persisted
through pkg/storage so a manager restart can see what it spawned
before going down, though resuming supervision of those processes
after a restart is left to an operator (the spawned processes are not
reparented to a restarted Invigilator).
*/
package manager
