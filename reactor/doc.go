// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides readiness notification backends (epoll on
// Linux, kqueue on Darwin and the BSDs, poll(2) on any of them) behind the
// api.Backend contract, and the Loop that drives one backend on a
// dedicated goroutine and hands fired continuations to the scheduler.
//
// All backends share the same one-shot semantics: a registration fires at
// most once and a source that is still ready must be registered again.
// Error and hangup conditions are delivered to every pending interest of
// the source with the api.InterestError bit set.
package reactor
