// File: core/session/store.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread-safe, propagation-aware key/value store backing a Context.

package session

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	val        any
	propagated bool
	expiry     time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && now.After(e.expiry)
}

type store struct {
	mu sync.RWMutex
	m  map[string]entry
}

func newStore() *store {
	return &store{m: make(map[string]entry)}
}

func (s *store) set(key string, value any, propagated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{val: value, propagated: propagated}
}

func (s *store) get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.val, true
}

func (s *store) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

func (s *store) expire(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if ok {
		e.expiry = time.Now().Add(ttl)
		s.m[key] = e
	}
	return ok
}

// keys returns live keys, sorted.
func (s *store) keys() []string {
	now := time.Now()
	s.mu.RLock()
	keys := make([]string, 0, len(s.m))
	for k, e := range s.m {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// propagated copies the entries marked for propagation into a new store.
func (s *store) propagated() *store {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := newStore()
	for k, e := range s.m {
		if e.propagated && !e.expired(now) {
			cp.m[k] = e
		}
	}
	return cp
}
