// Package token defines the external collaborator services the sale engine
// settles against: a multi-token asset registry and an allowance-based
// currency. In-memory implementations back tests and the simulator.
package token

import (
	"context"
	"sync"

	"github.com/google/uuid"

	pkgerrors "nftsale/pkg/errors"
)

// AssetService is the ownership registry holding the sellable items.
// Semantics follow a multi-token registry with per-owner operator approval.
type AssetService interface {
	BalanceOf(ctx context.Context, owner uuid.UUID, assetID uint64) (uint64, error)
	IsApprovedForAll(ctx context.Context, owner, operator uuid.UUID) (bool, error)
	// SafeTransferFrom moves quantity units of assetID from one account to
	// another on behalf of operator. It fails if operator is neither the
	// owner nor an approved operator, or if the balance is insufficient.
	SafeTransferFrom(ctx context.Context, operator, from, to uuid.UUID, assetID, quantity uint64) error
}

// AssetRegistry is an in-memory AssetService.
type AssetRegistry struct {
	mu        sync.RWMutex
	balances  map[uuid.UUID]map[uint64]uint64
	approvals map[uuid.UUID]map[uuid.UUID]bool
}

func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{
		balances:  make(map[uuid.UUID]map[uint64]uint64),
		approvals: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// Mint credits quantity units of assetID to owner.
func (r *AssetRegistry) Mint(owner uuid.UUID, assetID, quantity uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[owner] == nil {
		r.balances[owner] = make(map[uint64]uint64)
	}
	r.balances[owner][assetID] += quantity
}

// SetApprovalForAll grants or revokes operator rights over all of owner's assets.
func (r *AssetRegistry) SetApprovalForAll(owner, operator uuid.UUID, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.approvals[owner] == nil {
		r.approvals[owner] = make(map[uuid.UUID]bool)
	}
	r.approvals[owner][operator] = approved
}

func (r *AssetRegistry) BalanceOf(ctx context.Context, owner uuid.UUID, assetID uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[owner][assetID], nil
}

func (r *AssetRegistry) IsApprovedForAll(ctx context.Context, owner, operator uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.approvals[owner][operator], nil
}

func (r *AssetRegistry) SafeTransferFrom(ctx context.Context, operator, from, to uuid.UUID, assetID, quantity uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if operator != from && !r.approvals[from][operator] {
		return pkgerrors.ErrAssetNotApproved
	}
	if r.balances[from][assetID] < quantity {
		return pkgerrors.ErrAssetNotOwned
	}

	r.balances[from][assetID] -= quantity
	if r.balances[to] == nil {
		r.balances[to] = make(map[uint64]uint64)
	}
	r.balances[to][assetID] += quantity
	return nil
}
