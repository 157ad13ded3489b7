package manager

import (
	"os"
)

// detectNewVaultBinary checks for a "<binary>.new" staged alongside
// the currently running vault executable, the on-disk signal an
// out-of-band deploy step drops when it has placed an updated build.
// There is no package registry in this module's scope (§4.7 step 8
// only specifies the notify/ack exchange, not the discovery
// mechanism), so a staged-file convention stands in for it.
func detectNewVaultBinary(currentBinary string) (path string, found bool) {
	candidate := currentBinary + ".new"
	if _, err := os.Stat(candidate); err == nil {
		return candidate, true
	}
	return "", false
}
