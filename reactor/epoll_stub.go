//go:build !linux
// +build !linux

// File: reactor/epoll_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "github.com/momentics/hioload-rt/api"

func newEpoll() (api.Backend, error) {
	return nil, &api.BackendSetupError{Backend: api.BackendEpoll, Op: "create", Err: api.ErrNotSupported}
}
