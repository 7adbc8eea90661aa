//go:build !windows

package execx

import (
	"os"
	"syscall"
)

// terminateSignal is the polite shutdown signal sent on cancellation.
func terminateSignal() os.Signal {
	return syscall.SIGTERM
}
