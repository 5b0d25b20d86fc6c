package presence

import (
	"sort"
	"sync"
)

// Conn is a live connection handle. Implementations must be comparable.
type Conn interface {
	Send(payload []byte) bool
}

// Counts is a per-role tally of registered identities.
type Counts struct {
	Users  int `json:"users"`
	Tutors int `json:"tutors"`
	Admins int `json:"admins"`
}

// Registry maps identities to live connections, one mapping per role.
// A connection is bound to at most one (identity, role) at a time.
type Registry struct {
	mu    sync.RWMutex
	conns map[Role]map[string]Conn
	bound map[Conn]Identity
}

func NewRegistry() *Registry {
	conns := make(map[Role]map[string]Conn, len(Roles))
	for _, role := range Roles {
		conns[role] = make(map[string]Conn)
	}
	return &Registry{
		conns: conns,
		bound: make(map[Conn]Identity),
	}
}

// Register binds conn to (id, role). A previous connection for the same identity is
// orphaned, not closed. If conn was bound elsewhere it is moved.
func (r *Registry) Register(id string, role Role, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bound[conn]; ok {
		if r.conns[prev.Role][prev.ID] == conn {
			delete(r.conns[prev.Role], prev.ID)
		}
		delete(r.bound, conn)
	}

	if old, ok := r.conns[role][id]; ok && old != conn {
		delete(r.bound, old)
	}

	r.conns[role][id] = conn
	r.bound[conn] = Identity{ID: id, Role: role}
}

// Unregister drops the mapping for (id, role). Missing entries are ignored.
func (r *Registry) Unregister(id string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[role]
	if !ok {
		return
	}
	if conn, ok := m[id]; ok {
		delete(m, id)
		delete(r.bound, conn)
	}
}

// Release removes whatever mapping conn currently owns. It returns false when conn was
// already replaced by a newer registration, which keeps a stale disconnect from
// evicting the newer connection.
func (r *Registry) Release(conn Conn) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bound[conn]
	if !ok {
		return Identity{}, false
	}
	delete(r.bound, conn)
	if r.conns[id.Role][id.ID] == conn {
		delete(r.conns[id.Role], id.ID)
	}
	return id, true
}

// Resolve looks the identity up in role priority order and returns the first match.
func (r *Registry) Resolve(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, role := range Roles {
		if conn, ok := r.conns[role][id]; ok {
			return conn, true
		}
	}
	return nil, false
}

func (r *Registry) ResolveRole(id string, role Role) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[role][id]
	return conn, ok
}

// Lookup reports which identity conn is bound to.
func (r *Registry) Lookup(conn Conn) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bound[conn]
	return id, ok
}

// Snapshot lists every registered identity, grouped by role in priority order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.bound))
	for _, role := range Roles {
		start := len(ids)
		for id := range r.conns[role] {
			ids = append(ids, id)
		}
		sort.Strings(ids[start:])
	}
	return ids
}

func (r *Registry) IsOnline(id string, role Role) bool {
	_, ok := r.ResolveRole(id, role)
	return ok
}

func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Counts{
		Users:  len(r.conns[RoleUser]),
		Tutors: len(r.conns[RoleTutor]),
		Admins: len(r.conns[RoleAdmin]),
	}
}

// Count returns the number of identities registered under role.
func (r *Registry) Count(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[role])
}
