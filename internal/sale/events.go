package sale

import (
	"context"

	"github.com/shopspring/decimal"

	"nftsale/internal/domain"
)

// Publisher receives settlement notifications for external observers.
type Publisher interface {
	PublishPurchase(event domain.PurchaseEvent)
	PublishWithdrawal(event domain.WithdrawalEvent)
}

// Trail is the durable write-behind store mirroring the engine's state.
// The in-memory engine stays authoritative; trail failures are logged,
// never propagated to callers.
type Trail interface {
	SaveListing(ctx context.Context, listing *domain.Listing) error
	DeleteListing(ctx context.Context, assetID uint64) error
	SaveRoleGrant(ctx context.Context, grant domain.RoleGrant) error
	DeleteRoleGrant(ctx context.Context, grant domain.RoleGrant) error
	RecordPurchase(ctx context.Context, event *domain.PurchaseEvent) error
	RecordWithdrawal(ctx context.Context, event *domain.WithdrawalEvent) error
}

// State is a snapshot used to rehydrate the engine from the trail on boot.
type State struct {
	Listings     []domain.Listing
	Grants       []domain.RoleGrant
	PlatformOwed decimal.Decimal
	PartnerOwed  decimal.Decimal
}

type nopPublisher struct{}

func (nopPublisher) PublishPurchase(domain.PurchaseEvent)     {}
func (nopPublisher) PublishWithdrawal(domain.WithdrawalEvent) {}

// NopPublisher returns a Publisher that drops every event.
func NopPublisher() Publisher { return nopPublisher{} }
