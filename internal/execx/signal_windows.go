//go:build windows

package execx

import "os"

// Windows has no SIGTERM; Kill is the only portable option.
func terminateSignal() os.Signal {
	return os.Kill
}
