// File: api/context_factory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// ContextFactory creates ingress Contexts. The runtime facade provides the
// implementation so hosts never construct contexts directly.
type ContextFactory interface {
	NewContext() Context
}
