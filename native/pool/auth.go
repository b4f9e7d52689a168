package pool

import (
	"github.com/ethereum/go-ethereum/common"
)

// Role identifies a capability required by a guarded operation.
type Role uint8

const (
	RolePoolOwner Role = iota + 1
	RoleOperator
	RoleEvaluationAgent
	RoleProtocolAdmin
	RoleSentinel
)

func (r Role) String() string {
	switch r {
	case RolePoolOwner:
		return "pool-owner"
	case RoleOperator:
		return "operator"
	case RoleEvaluationAgent:
		return "evaluation-agent"
	case RoleProtocolAdmin:
		return "protocol-admin"
	case RoleSentinel:
		return "sentinel"
	default:
		return "unknown"
	}
}

// RoleRegistry maps addresses to granted roles. Mutating operations call
// Authorize as their first guard; the registry itself is only mutated through
// pool construction and owner-guarded grants, both serialized by the pool
// mutex.
type RoleRegistry struct {
	grants map[common.Address]map[Role]struct{}
}

func NewRoleRegistry() *RoleRegistry {
	return &RoleRegistry{grants: make(map[common.Address]map[Role]struct{})}
}

func (r *RoleRegistry) Grant(addr common.Address, role Role) error {
	if addr == (common.Address{}) {
		return ErrZeroAddressProvided
	}
	roles, ok := r.grants[addr]
	if !ok {
		roles = make(map[Role]struct{})
		r.grants[addr] = roles
	}
	roles[role] = struct{}{}
	return nil
}

func (r *RoleRegistry) Revoke(addr common.Address, role Role) {
	if roles, ok := r.grants[addr]; ok {
		delete(roles, role)
		if len(roles) == 0 {
			delete(r.grants, addr)
		}
	}
}

func (r *RoleRegistry) Has(addr common.Address, role Role) bool {
	roles, ok := r.grants[addr]
	if !ok {
		return false
	}
	_, ok = roles[role]
	return ok
}

// Authorize passes when the caller holds any of the listed roles.
func (r *RoleRegistry) Authorize(caller common.Address, roles ...Role) error {
	for _, role := range roles {
		if r.Has(caller, role) {
			return nil
		}
	}
	return ErrUnauthorized
}
