//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

// File: reactor/poll_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "github.com/momentics/hioload-rt/api"

func newPoll() (api.Backend, error) {
	return nil, &api.BackendSetupError{Backend: api.BackendPoll, Op: "create", Err: api.ErrNotSupported}
}
