package uid

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/xtxerr/scanline/internal/errors"
)

// Registry is an in-memory bidirectional UID registry.
//
// With assigning enabled, unknown names are allocated the next free UID on
// first resolution, which is the behavior embedded deployments and tests
// want. With assigning disabled it behaves like a read-only UID service and
// returns not-found errors.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	assigning bool

	nameToUID [3]map[string]string // Type -> name -> uid (string-keyed)
	uidToName [3]map[string]string // Type -> uid -> name
	next      [3]uint32
}

// NewRegistry creates a registry. If assigning is true, unknown names are
// allocated UIDs on first ResolveName.
func NewRegistry(assigning bool) *Registry {
	r := &Registry{assigning: assigning}
	for i := range r.nameToUID {
		r.nameToUID[i] = make(map[string]string)
		r.uidToName[i] = make(map[string]string)
		r.next[i] = 1
	}
	return r
}

// Assign explicitly binds a name to a UID.
func (r *Registry) Assign(t Type, name string, id UID) error {
	if err := id.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nameToUID[t][name]; ok {
		return fmt.Errorf("%s %q: %w", t, name, errors.ErrUIDAlreadyExists)
	}
	if _, ok := r.uidToName[t][string(id)]; ok {
		return fmt.Errorf("%s %s: %w", t, id, errors.ErrUIDAlreadyExists)
	}

	r.nameToUID[t][name] = string(id)
	r.uidToName[t][string(id)] = name
	return nil
}

// GetOrAssign resolves a name, allocating a UID if absent. It ignores the
// assigning flag and always allocates.
func (r *Registry) GetOrAssign(t Type, name string) (UID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrAssignLocked(t, name)
}

func (r *Registry) getOrAssignLocked(t Type, name string) (UID, error) {
	if id, ok := r.nameToUID[t][name]; ok {
		return UID(id), nil
	}

	if r.next[t] >= 1<<(8*Width) {
		return nil, fmt.Errorf("%s: %w", t, errors.ErrRegistryExhausted)
	}

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], r.next[t])
	r.next[t]++
	id := string(buf[4-Width:])

	r.nameToUID[t][name] = id
	r.uidToName[t][id] = name
	return UID(id), nil
}

// ResolveName implements Resolver.
func (r *Registry) ResolveName(_ context.Context, t Type, name string) (UID, error) {
	r.mu.RLock()
	id, ok := r.nameToUID[t][name]
	r.mu.RUnlock()

	if ok {
		return UID(id), nil
	}

	if r.assigning {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.getOrAssignLocked(t, name)
	}

	return nil, fmt.Errorf("%s %q: %w", t, name, NotFoundError(t))
}

// ResolveUID implements Resolver.
func (r *Registry) ResolveUID(_ context.Context, t Type, id UID) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}

	r.mu.RLock()
	name, ok := r.uidToName[t][string(id)]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%s %s: %w", t, id, errors.ErrUIDNotFound)
	}
	return name, nil
}

// Count returns the number of assignments in a namespace.
func (r *Registry) Count(t Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToUID[t])
}
