package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"nftsale/internal/domain"
)

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

type settlementEventRow struct {
	ID            uuid.UUID       `db:"id"`
	EventType     string          `db:"event_type"`
	AssetID       sql.NullString  `db:"asset_id"`
	Principal     uuid.UUID       `db:"principal"`
	Quantity      string          `db:"quantity"`
	Amount        decimal.Decimal `db:"amount"`
	PlatformShare decimal.Decimal `db:"platform_share"`
	PartnerShare  decimal.Decimal `db:"partner_share"`
	PreviousHash  string          `db:"previous_hash"`
	Hash          string          `db:"hash"`
	CreatedAt     time.Time       `db:"created_at"`
}

// RecordPurchase appends a purchase to the hash-chained event trail and
// credits the persisted owed balances, atomically.
func (s *Store) RecordPurchase(ctx context.Context, event *domain.PurchaseEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := settlementEventRow{
		ID:            event.ID,
		EventType:     "purchase",
		AssetID:       sql.NullString{String: strconv.FormatUint(event.AssetID, 10), Valid: true},
		Principal:     event.Buyer,
		Quantity:      strconv.FormatUint(event.Quantity, 10),
		Amount:        event.TotalPrice,
		PlatformShare: event.PlatformShare,
		PartnerShare:  event.PartnerShare,
		CreatedAt:     event.OccurredAt,
	}
	if err := s.appendEvent(ctx, tx, &row); err != nil {
		return err
	}

	if err := s.adjustBalance(ctx, tx, domain.CapabilityPlatform, event.PlatformShare); err != nil {
		return err
	}
	if err := s.adjustBalance(ctx, tx, domain.CapabilityPartner, event.PartnerShare); err != nil {
		return err
	}

	return tx.Commit()
}

// RecordWithdrawal appends a withdrawal to the event trail and zeroes the
// persisted owed balance of the withdrawing role, atomically.
func (s *Store) RecordWithdrawal(ctx context.Context, event *domain.WithdrawalEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := settlementEventRow{
		ID:        event.ID,
		EventType: "withdrawal",
		Principal: event.Beneficiary,
		Quantity:  "0",
		Amount:    event.Amount,
		CreatedAt: event.OccurredAt,
	}
	if err := s.appendEvent(ctx, tx, &row); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sale_ledger_balances SET owed = 0, updated_at = NOW() WHERE role = $1
	`, string(event.Capability))
	if err != nil {
		return err
	}

	return tx.Commit()
}

// appendEvent chains the new event onto the last one. The last row is locked
// so concurrent writers cannot fork the chain.
func (s *Store) appendEvent(ctx context.Context, tx *sqlx.Tx, row *settlementEventRow) error {
	previousHash := genesisHash
	err := tx.GetContext(ctx, &previousHash,
		`SELECT hash FROM sale_settlement_events ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	row.PreviousHash = previousHash
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s:%d",
		row.ID, row.EventType, row.AssetID.String, row.Quantity,
		row.Amount.String(), previousHash, row.CreatedAt.UnixNano())
	sum := sha256.Sum256([]byte(data))
	row.Hash = hex.EncodeToString(sum[:])

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO sale_settlement_events (
			id, event_type, asset_id, principal, quantity, amount,
			platform_share, partner_share, previous_hash, hash, created_at
		) VALUES (
			:id, :event_type, :asset_id, :principal, :quantity, :amount,
			:platform_share, :partner_share, :previous_hash, :hash, :created_at
		)
	`, row)
	return err
}

func (s *Store) adjustBalance(ctx context.Context, tx *sqlx.Tx, capability domain.Capability, delta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sale_ledger_balances (role, owed, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (role) DO UPDATE SET
			owed = sale_ledger_balances.owed + EXCLUDED.owed,
			updated_at = NOW()
	`, string(capability), delta)
	return err
}
