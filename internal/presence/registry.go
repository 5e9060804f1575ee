// ABOUTME: Process-wide registry of identities with a live, bound session
// ABOUTME: Mutex-guarded set with join-order snapshots for presence broadcasts

package presence

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Registry tracks which identities are online. All methods are safe for
// concurrent use and each one is atomic with respect to the others.
// The zero value is not usable; construct with New.
type Registry struct {
	mu      sync.RWMutex
	members map[string]entry
	next    uint64
	logger  *slog.Logger
}

type entry struct {
	order    uint64
	joinedAt time.Time
}

// New creates an empty registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		members: make(map[string]entry),
		logger:  logger.With("component", "presence"),
	}
}

// Join marks identity online. Joining twice is a no-op and keeps the
// original join position. Reports whether the identity was newly added.
func (r *Registry) Join(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[identity]; ok {
		return false
	}
	r.next++
	r.members[identity] = entry{order: r.next, joinedAt: time.Now()}
	r.logger.Debug("identity joined", "identity", identity, "online", len(r.members))
	return true
}

// Leave marks identity offline. Leaving when absent is a no-op.
// Reports whether the identity was present.
func (r *Registry) Leave(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[identity]; !ok {
		return false
	}
	delete(r.members, identity)
	r.logger.Debug("identity left", "identity", identity, "online", len(r.members))
	return true
}

// IsOnline reports whether identity currently has a bound session
func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[identity]
	return ok
}

// JoinedAt returns when identity joined, or false if it is offline
func (r *Registry) JoinedAt(identity string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.members[identity]
	return e.joinedAt, ok
}

// Len returns the number of online identities
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Snapshot returns a point-in-time copy of the online identities ordered by
// join time, earliest first. The slice is owned by the caller.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	type ordered struct {
		id    string
		order uint64
	}
	all := make([]ordered, 0, len(r.members))
	for id, e := range r.members {
		all = append(all, ordered{id: id, order: e.order})
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b ordered) int {
		return cmp.Compare(a.order, b.order)
	})
	out := make([]string, len(all))
	for i, o := range all {
		out[i] = o.id
	}
	return out
}
