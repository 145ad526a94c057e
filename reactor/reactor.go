// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend selection. The kind is resolved once at startup; a backend the
// platform cannot provide is a setup error and never falls back.

package reactor

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-rt/api"
)

// Resolve maps api.BackendAuto onto the preferred kind for goos.
func Resolve(kind api.BackendKind, goos string) (api.BackendKind, error) {
	switch kind {
	case api.BackendEpoll, api.BackendKqueue, api.BackendPoll:
		return kind, nil
	case api.BackendAuto, "":
	default:
		return "", &api.BackendSetupError{Backend: kind, Op: "resolve", Err: fmt.Errorf("%w: unknown backend", api.ErrInvalidArgument)}
	}
	switch goos {
	case "linux", "android":
		return api.BackendEpoll, nil
	case "darwin", "ios", "freebsd", "netbsd", "openbsd", "dragonfly":
		return api.BackendKqueue, nil
	case "aix", "solaris", "illumos":
		return api.BackendPoll, nil
	}
	return "", &api.BackendSetupError{Backend: api.BackendAuto, Op: "resolve " + goos, Err: api.ErrNotSupported}
}

// New constructs a backend of the given kind for this platform.
func New(kind api.BackendKind) (api.Backend, error) {
	k, err := Resolve(kind, runtime.GOOS)
	if err != nil {
		return nil, err
	}
	switch k {
	case api.BackendEpoll:
		return newEpoll()
	case api.BackendKqueue:
		return newKqueue()
	default:
		return newPoll()
	}
}
