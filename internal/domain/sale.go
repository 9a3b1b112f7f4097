// Package domain holds the shared types of the NFT sale settlement engine.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Capability is a named permission grantable to a principal.
type Capability string

const (
	CapabilityAdmin    Capability = "ADMIN"
	CapabilitySeller   Capability = "SELLER"
	CapabilityPlatform Capability = "PLATFORM"
	CapabilityPartner  Capability = "PARTNER"
)

// Valid reports whether c is one of the known capabilities.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityAdmin, CapabilitySeller, CapabilityPlatform, CapabilityPartner:
		return true
	}
	return false
}

// Share percentages are fixed-point integers scaled by 10^8.
// WholeSharePercent is 100% in that representation.
const (
	SharePercentScale int64 = 100_000_000
	WholeSharePercent int64 = 100 * SharePercentScale
)

// ShareConfig is the immutable revenue split between platform and partner.
type ShareConfig struct {
	PlatformSharePercent int64 `json:"platform_share_percent"`
	PartnerSharePercent  int64 `json:"partner_share_percent"`
}

// Listing is an active offer: a seller, a remaining quantity and a fixed
// unit price for one asset id. A listing with zero remaining quantity does
// not exist; exhaustion removes the entry.
type Listing struct {
	AssetID   uint64          `json:"asset_id" db:"asset_id"`
	Seller    uuid.UUID       `json:"seller" db:"seller"`
	Quantity  uint64          `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// RoleGrant is one (capability, principal) pair of the role registry.
type RoleGrant struct {
	Capability Capability `json:"capability" db:"capability"`
	Principal  uuid.UUID  `json:"principal" db:"principal"`
}

// PurchaseEvent records one completed settlement.
type PurchaseEvent struct {
	ID            uuid.UUID       `json:"id"`
	AssetID       uint64          `json:"asset_id"`
	Buyer         uuid.UUID       `json:"buyer"`
	Seller        uuid.UUID       `json:"seller"`
	Quantity      uint64          `json:"quantity"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PlatformShare decimal.Decimal `json:"platform_share"`
	PartnerShare  decimal.Decimal `json:"partner_share"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// WithdrawalEvent records one beneficiary draining its owed balance.
type WithdrawalEvent struct {
	ID          uuid.UUID       `json:"id"`
	Capability  Capability      `json:"capability"`
	Beneficiary uuid.UUID       `json:"beneficiary"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
