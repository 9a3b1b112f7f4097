// Package postgres persists the sale engine's state: listings, role grants,
// owed balances and a hash-chained trail of settlement events. The engine is
// authoritative in memory; this store mirrors it for audit and reboot.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"nftsale/internal/domain"
	"nftsale/internal/sale"
)

// Store implements sale.Trail on top of Postgres.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Asset ids and quantities are uint64; they travel as strings because the
// driver's int64 cannot carry values at or above 2^63.
type listingRow struct {
	AssetID   string          `db:"asset_id"`
	Seller    uuid.UUID       `db:"seller"`
	Quantity  string          `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// SaveListing upserts the current listing for an asset id.
func (s *Store) SaveListing(ctx context.Context, listing *domain.Listing) error {
	row := listingRow{
		AssetID:   strconv.FormatUint(listing.AssetID, 10),
		Seller:    listing.Seller,
		Quantity:  strconv.FormatUint(listing.Quantity, 10),
		UnitPrice: listing.UnitPrice,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sale_listings (asset_id, seller, quantity, unit_price, updated_at)
		VALUES (:asset_id, :seller, :quantity, :unit_price, :updated_at)
		ON CONFLICT (asset_id) DO UPDATE SET
			seller = EXCLUDED.seller,
			quantity = EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price,
			updated_at = EXCLUDED.updated_at
	`, row)
	return err
}

// DeleteListing removes an exhausted listing.
func (s *Store) DeleteListing(ctx context.Context, assetID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sale_listings WHERE asset_id = $1`, strconv.FormatUint(assetID, 10))
	return err
}

// SaveRoleGrant records a (capability, principal) pair.
func (s *Store) SaveRoleGrant(ctx context.Context, grant domain.RoleGrant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_role_grants (capability, principal, granted_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (capability, principal) DO NOTHING
	`, string(grant.Capability), grant.Principal)
	return err
}

// DeleteRoleGrant removes a (capability, principal) pair.
func (s *Store) DeleteRoleGrant(ctx context.Context, grant domain.RoleGrant) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sale_role_grants WHERE capability = $1 AND principal = $2`,
		string(grant.Capability), grant.Principal)
	return err
}

// Load reads the persisted snapshot used to rehydrate the engine on boot.
func (s *Store) Load(ctx context.Context) (sale.State, error) {
	var state sale.State

	var listings []listingRow
	if err := s.db.SelectContext(ctx, &listings,
		`SELECT asset_id, seller, quantity, unit_price, updated_at FROM sale_listings`); err != nil {
		return state, err
	}
	for _, row := range listings {
		assetID, err := strconv.ParseUint(row.AssetID, 10, 64)
		if err != nil {
			return state, err
		}
		quantity, err := strconv.ParseUint(row.Quantity, 10, 64)
		if err != nil {
			return state, err
		}
		state.Listings = append(state.Listings, domain.Listing{
			AssetID:   assetID,
			Seller:    row.Seller,
			Quantity:  quantity,
			UnitPrice: row.UnitPrice,
		})
	}

	type grantRow struct {
		Capability string    `db:"capability"`
		Principal  uuid.UUID `db:"principal"`
	}
	var grants []grantRow
	if err := s.db.SelectContext(ctx, &grants,
		`SELECT capability, principal FROM sale_role_grants`); err != nil {
		return state, err
	}
	for _, row := range grants {
		state.Grants = append(state.Grants, domain.RoleGrant{
			Capability: domain.Capability(row.Capability),
			Principal:  row.Principal,
		})
	}

	platformOwed, err := s.loadBalance(ctx, domain.CapabilityPlatform)
	if err != nil {
		return state, err
	}
	partnerOwed, err := s.loadBalance(ctx, domain.CapabilityPartner)
	if err != nil {
		return state, err
	}
	state.PlatformOwed = platformOwed
	state.PartnerOwed = partnerOwed
	return state, nil
}

func (s *Store) loadBalance(ctx context.Context, capability domain.Capability) (decimal.Decimal, error) {
	var owed decimal.Decimal
	err := s.db.GetContext(ctx, &owed,
		`SELECT owed FROM sale_ledger_balances WHERE role = $1`, string(capability))
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	return owed, err
}
