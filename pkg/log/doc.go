/*
Package log provides structured logging for the vault manager using zerolog.

A single package-level Logger is initialized once via Init and then shared
by every other package in this module. Component-scoped child loggers are
created with the With* helpers (WithComponent, WithVaultID,
WithProcessIndex, WithConnection) so call sites don't repeat context
fields by hand.

Not every package in this module routes through here: some of the vault
worker's startup banners use plain fmt.Printf instead, matching how this
codebase has always mixed the two.
*/
package log
