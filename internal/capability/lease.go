package capability

import (
	"errors"
	"sync"
)

// ErrRevoked is returned by proxies whose lease has been revoked.
var ErrRevoked = errors.New("capability revoked")

// Lease scopes a set of proxies to one invocation. Once revoked, every proxy
// created under it (and every proxy derived from those) refuses access.
// A nil *Lease is never revoked.
type Lease struct {
	mu      sync.RWMutex
	revoked bool
}

// NewLease returns an active lease.
func NewLease() *Lease { return &Lease{} }

// Revoke ends the lease. It waits for calls already running through its
// proxies to return, so no host method is executing on the lease's behalf
// once Revoke returns.
func (l *Lease) Revoke() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.revoked = true
	l.mu.Unlock()
}

// Revoked reports whether Revoke has been called.
func (l *Lease) Revoked() bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revoked
}

// hold keeps the lease from being revoked until release is called. It fails
// once the lease is revoked.
func (l *Lease) hold() (release func(), err error) {
	if l == nil {
		return func() {}, nil
	}
	l.mu.RLock()
	if l.revoked {
		l.mu.RUnlock()
		return nil, ErrRevoked
	}
	return l.mu.RUnlock, nil
}

// Attenuate is the package-level Attenuate with every resulting proxy bound
// to l.
func (l *Lease) Attenuate(v any, exclude, include Predicate) any {
	return attenuate(v, exclude, include, l)
}
