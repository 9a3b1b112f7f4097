package sale

import (
	"github.com/google/uuid"

	"nftsale/internal/domain"
)

// roleRegistry is the set-valued capability -> principal mapping. It is not
// safe for concurrent use on its own; the engine's lock covers it.
type roleRegistry struct {
	grants map[domain.Capability]map[uuid.UUID]bool
}

func newRoleRegistry() *roleRegistry {
	return &roleRegistry{grants: make(map[domain.Capability]map[uuid.UUID]bool)}
}

func (r *roleRegistry) grant(capability domain.Capability, principal uuid.UUID) {
	if r.grants[capability] == nil {
		r.grants[capability] = make(map[uuid.UUID]bool)
	}
	r.grants[capability][principal] = true
}

func (r *roleRegistry) revoke(capability domain.Capability, principal uuid.UUID) {
	delete(r.grants[capability], principal)
}

func (r *roleRegistry) has(capability domain.Capability, principal uuid.UUID) bool {
	return r.grants[capability][principal]
}
