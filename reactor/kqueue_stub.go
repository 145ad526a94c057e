//go:build !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

// File: reactor/kqueue_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "github.com/momentics/hioload-rt/api"

func newKqueue() (api.Backend, error) {
	return nil, &api.BackendSetupError{Backend: api.BackendKqueue, Op: "create", Err: api.ErrNotSupported}
}
