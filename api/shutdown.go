// File: api/shutdown.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// GracefulShutdown is implemented by components that drain outstanding
// work before releasing resources.
type GracefulShutdown interface {
	// Shutdown stops intake, waits up to timeout for in-flight work, then
	// cancels what is left. Calling it again is a no-op.
	Shutdown(timeout time.Duration) error
}
