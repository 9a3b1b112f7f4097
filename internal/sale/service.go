// Package sale implements the marketplace settlement engine: the listing
// lifecycle, the purchase state transition and the withdrawable ledger,
// gated by a capability-based role registry.
package sale

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"nftsale/internal/domain"
	"nftsale/internal/token"
	pkgerrors "nftsale/pkg/errors"
	"nftsale/pkg/logger"
)

// Service is the settlement engine. Every mutating entry point runs under
// one lock, start to finish, so a purchase or withdrawal can never
// interleave with another operation. Ledger balances are updated before any
// outbound transfer is issued.
type Service struct {
	mu sync.Mutex

	assets   token.AssetService
	currency token.CurrencyService
	trail    Trail
	publish  Publisher
	logger   logger.Logger

	// engineID is the engine's own principal: the operator it acts as
	// against the asset registry and the custody account holding collected
	// currency until withdrawal.
	engineID uuid.UUID

	initialized bool
	admin       uuid.UUID
	shares      domain.ShareConfig

	roles        *roleRegistry
	listings     map[uint64]*domain.Listing
	platformOwed decimal.Decimal
	partnerOwed  decimal.Decimal
}

// NewService wires the engine to its collaborators. trail and publish may be
// nil. The engine starts uninitialized; Initialize must be called once.
func NewService(engineID uuid.UUID, assets token.AssetService, currency token.CurrencyService, trail Trail, publish Publisher, log logger.Logger) *Service {
	if publish == nil {
		publish = NopPublisher()
	}
	return &Service{
		assets:   assets,
		currency: currency,
		trail:    trail,
		publish:  publish,
		logger:   log,
		engineID: engineID,
		roles:    newRoleRegistry(),
		listings: make(map[uint64]*domain.Listing),
	}
}

// Initialize stores the immutable share configuration and grants ADMIN to
// the given principal. A second call fails with ErrAlreadyInitialized.
func (s *Service) Initialize(ctx context.Context, admin uuid.UUID, platformSharePercent, partnerSharePercent int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return pkgerrors.ErrAlreadyInitialized
	}
	if admin == uuid.Nil || s.engineID == uuid.Nil {
		return pkgerrors.ErrZeroPrincipal
	}
	if s.assets == nil || s.currency == nil {
		return pkgerrors.ErrZeroPrincipal
	}

	shares, err := NewShareConfig(platformSharePercent, partnerSharePercent)
	if err != nil {
		return err
	}

	s.shares = shares
	s.admin = admin
	s.roles.grant(domain.CapabilityAdmin, admin)
	s.initialized = true

	s.logger.Info("Sale engine initialized", map[string]interface{}{
		"admin":          admin,
		"platform_share": platformSharePercent,
		"partner_share":  partnerSharePercent,
	})
	return nil
}

// Restore rehydrates listings, grants and owed balances from a snapshot.
// It must run after Initialize and before the engine serves traffic.
func (s *Service) Restore(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return pkgerrors.ErrNotInitialized
	}
	for i := range state.Listings {
		l := state.Listings[i]
		s.listings[l.AssetID] = &l
	}
	for _, g := range state.Grants {
		if g.Capability == domain.CapabilityAdmin {
			continue
		}
		s.roles.grant(g.Capability, g.Principal)
	}
	s.platformOwed = state.PlatformOwed
	s.partnerOwed = state.PartnerOwed
	return nil
}

// GrantRole assigns a capability to a principal. Only ADMIN may call it and
// ADMIN itself is immutable after initialization.
func (s *Service) GrantRole(ctx context.Context, caller uuid.UUID, capability domain.Capability, principal uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireCapability(caller, domain.CapabilityAdmin); err != nil {
		return err
	}
	if !capability.Valid() {
		return pkgerrors.ErrUnknownCapability
	}
	if capability == domain.CapabilityAdmin {
		return pkgerrors.ErrAdminRoleImmutable
	}
	if principal == uuid.Nil {
		return pkgerrors.ErrZeroPrincipal
	}

	s.roles.grant(capability, principal)
	s.record(ctx, "role grant", func(ctx context.Context) error {
		return s.trail.SaveRoleGrant(ctx, domain.RoleGrant{Capability: capability, Principal: principal})
	})
	return nil
}

// RevokeRole removes a capability from a principal. Only ADMIN may call it.
func (s *Service) RevokeRole(ctx context.Context, caller uuid.UUID, capability domain.Capability, principal uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireCapability(caller, domain.CapabilityAdmin); err != nil {
		return err
	}
	if !capability.Valid() {
		return pkgerrors.ErrUnknownCapability
	}
	if capability == domain.CapabilityAdmin {
		return pkgerrors.ErrAdminRoleImmutable
	}

	s.roles.revoke(capability, principal)
	s.record(ctx, "role revoke", func(ctx context.Context) error {
		return s.trail.DeleteRoleGrant(ctx, domain.RoleGrant{Capability: capability, Principal: principal})
	})
	return nil
}

// HasCapability reports whether principal holds capability.
func (s *Service) HasCapability(capability domain.Capability, principal uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles.has(capability, principal)
}

// ListForSale puts quantity units of assetID on sale at unitPrice. The
// caller must hold SELLER, own at least quantity units and have approved the
// engine as operator. Relisting an already listed asset replaces the prior
// listing outright; quantities are never merged.
func (s *Service) ListForSale(ctx context.Context, caller uuid.UUID, assetID, quantity uint64, unitPrice decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return pkgerrors.ErrNotInitialized
	}
	if err := s.requireCapability(caller, domain.CapabilitySeller); err != nil {
		return err
	}
	if quantity == 0 {
		return pkgerrors.ErrZeroQuantity
	}
	if unitPrice.IsNegative() {
		return pkgerrors.ErrNegativePrice
	}

	balance, err := s.assets.BalanceOf(ctx, caller, assetID)
	if err != nil {
		return pkgerrors.Wrap(err, "asset balance check failed")
	}
	if balance < quantity {
		return pkgerrors.ErrAssetNotOwned
	}
	approved, err := s.assets.IsApprovedForAll(ctx, caller, s.engineID)
	if err != nil {
		return pkgerrors.Wrap(err, "asset approval check failed")
	}
	if !approved {
		return pkgerrors.ErrAssetNotApproved
	}

	listing := &domain.Listing{
		AssetID:   assetID,
		Seller:    caller,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	}
	s.listings[assetID] = listing
	s.record(ctx, "listing save", func(ctx context.Context) error {
		return s.trail.SaveListing(ctx, listing)
	})

	s.logger.Info("Asset listed for sale", map[string]interface{}{
		"asset_id":   assetID,
		"seller":     caller,
		"quantity":   quantity,
		"unit_price": unitPrice.String(),
	})
	return nil
}

// GetListing returns the active listing for assetID.
func (s *Service) GetListing(assetID uint64) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[assetID]
	if !ok {
		return domain.Listing{}, pkgerrors.ErrNotListed
	}
	return *listing, nil
}

// ShareConfig returns the immutable revenue split.
func (s *Service) ShareConfig() (domain.ShareConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return domain.ShareConfig{}, pkgerrors.ErrNotInitialized
	}
	return s.shares, nil
}

// WithdrawableBalances returns the currently owed platform and partner totals.
func (s *Service) WithdrawableBalances() (platformOwed, partnerOwed decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platformOwed, s.partnerOwed
}

// Purchase settles a buy of quantity units of assetID. The full price is
// pulled from the buyer into engine custody and split between the platform
// and partner ledgers; the seller receives no direct proceeds. The asset
// moves from the seller to the buyer via the approval granted at listing
// time. Any failure aborts the whole operation with no state change.
func (s *Service) Purchase(ctx context.Context, buyer uuid.UUID, assetID, quantity uint64) (domain.PurchaseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return domain.PurchaseEvent{}, pkgerrors.ErrNotInitialized
	}

	listing, ok := s.listings[assetID]
	if !ok {
		return domain.PurchaseEvent{}, pkgerrors.ErrNotListed
	}
	if quantity > listing.Quantity {
		return domain.PurchaseEvent{}, pkgerrors.ErrInsufficientListedQuantity
	}
	if quantity == 0 {
		return domain.PurchaseEvent{}, pkgerrors.ErrZeroQuantity
	}

	totalPrice := listing.UnitPrice.Mul(decimalFromUint(quantity))

	balance, err := s.currency.BalanceOf(ctx, buyer)
	if err != nil {
		return domain.PurchaseEvent{}, pkgerrors.Wrap(err, "currency balance check failed")
	}
	if balance.LessThan(totalPrice) {
		return domain.PurchaseEvent{}, pkgerrors.ErrInsufficientFunds
	}
	allowance, err := s.currency.Allowance(ctx, buyer, s.engineID)
	if err != nil {
		return domain.PurchaseEvent{}, pkgerrors.Wrap(err, "currency allowance check failed")
	}
	if allowance.LessThan(totalPrice) {
		return domain.PurchaseEvent{}, pkgerrors.ErrInsufficientAllowance
	}

	// Collect the price into engine custody.
	if err := s.currency.TransferFrom(ctx, buyer, s.engineID, totalPrice); err != nil {
		return domain.PurchaseEvent{}, err
	}

	// Credit the ledger before any further external interaction.
	platformShare, partnerShare := CalculateSplit(s.shares, totalPrice)
	s.platformOwed = s.platformOwed.Add(platformShare)
	s.partnerOwed = s.partnerOwed.Add(partnerShare)

	if err := s.assets.SafeTransferFrom(ctx, s.engineID, listing.Seller, buyer, assetID, quantity); err != nil {
		// Undo the credit and return the collected funds to the buyer.
		s.platformOwed = s.platformOwed.Sub(platformShare)
		s.partnerOwed = s.partnerOwed.Sub(partnerShare)
		if refundErr := s.currency.Transfer(ctx, s.engineID, buyer, totalPrice); refundErr != nil {
			s.logger.Error("Purchase rollback refund failed", map[string]interface{}{
				"asset_id": assetID,
				"buyer":    buyer,
				"amount":   totalPrice.String(),
				"error":    refundErr.Error(),
			})
		}
		return domain.PurchaseEvent{}, pkgerrors.Wrap(err, "asset transfer failed")
	}

	listing.Quantity -= quantity
	exhausted := listing.Quantity == 0
	if exhausted {
		delete(s.listings, assetID)
	}

	event := domain.PurchaseEvent{
		ID:            uuid.New(),
		AssetID:       assetID,
		Buyer:         buyer,
		Seller:        listing.Seller,
		Quantity:      quantity,
		TotalPrice:    totalPrice,
		PlatformShare: platformShare,
		PartnerShare:  partnerShare,
		OccurredAt:    time.Now().UTC(),
	}

	s.record(ctx, "purchase", func(ctx context.Context) error {
		if err := s.trail.RecordPurchase(ctx, &event); err != nil {
			return err
		}
		if exhausted {
			return s.trail.DeleteListing(ctx, assetID)
		}
		return s.trail.SaveListing(ctx, listing)
	})
	s.publish.PublishPurchase(event)

	s.logger.Info("Purchase settled", map[string]interface{}{
		"asset_id":       assetID,
		"buyer":          buyer,
		"quantity":       quantity,
		"total_price":    totalPrice.String(),
		"platform_share": platformShare.String(),
		"partner_share":  partnerShare.String(),
	})
	return event, nil
}

// WithdrawPlatformShare drains the platform's owed balance to the caller.
// The caller must hold PLATFORM. The balance is zeroed before the outbound
// transfer so a re-entrant call cannot withdraw twice.
func (s *Service) WithdrawPlatformShare(ctx context.Context, caller uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdraw(ctx, caller, domain.CapabilityPlatform, &s.platformOwed)
}

// WithdrawPartnerShare drains the partner's owed balance to the caller.
// The caller must hold PARTNER.
func (s *Service) WithdrawPartnerShare(ctx context.Context, caller uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdraw(ctx, caller, domain.CapabilityPartner, &s.partnerOwed)
}

func (s *Service) withdraw(ctx context.Context, caller uuid.UUID, capability domain.Capability, owed *decimal.Decimal) (decimal.Decimal, error) {
	if !s.initialized {
		return decimal.Zero, pkgerrors.ErrNotInitialized
	}
	if err := s.requireCapability(caller, capability); err != nil {
		return decimal.Zero, err
	}

	amount := *owed
	if amount.IsZero() {
		return decimal.Zero, pkgerrors.ErrNothingToWithdraw
	}

	// Effects before interactions: zero the accumulator first.
	*owed = decimal.Zero
	if err := s.currency.Transfer(ctx, s.engineID, caller, amount); err != nil {
		*owed = amount
		return decimal.Zero, pkgerrors.Wrap(err, "withdrawal transfer failed")
	}

	event := domain.WithdrawalEvent{
		ID:          uuid.New(),
		Capability:  capability,
		Beneficiary: caller,
		Amount:      amount,
		OccurredAt:  time.Now().UTC(),
	}
	s.record(ctx, "withdrawal", func(ctx context.Context) error {
		return s.trail.RecordWithdrawal(ctx, &event)
	})
	s.publish.PublishWithdrawal(event)

	s.logger.Info("Share withdrawn", map[string]interface{}{
		"capability":  capability,
		"beneficiary": caller,
		"amount":      amount.String(),
	})
	return amount, nil
}

func (s *Service) requireCapability(caller uuid.UUID, capability domain.Capability) error {
	if !s.initialized {
		return pkgerrors.ErrNotInitialized
	}
	if !s.roles.has(capability, caller) {
		return pkgerrors.ErrUnauthorized
	}
	return nil
}

// record runs a trail mutation when a trail is configured. Trail errors are
// logged and swallowed: the in-memory state is authoritative.
func (s *Service) record(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if s.trail == nil {
		return
	}
	if err := fn(ctx); err != nil {
		s.logger.Error("Trail write failed", map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		})
	}
}
