package sale

import (
	"context"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nftsale/internal/domain"
	"nftsale/internal/token"
	pkgerrors "nftsale/pkg/errors"
	"nftsale/pkg/logger"
)

// --- Fixture ---

type fixture struct {
	engine   *Service
	assets   *token.AssetRegistry
	currency *token.Currency

	engineID uuid.UUID
	admin    uuid.UUID
	seller   uuid.UUID
	buyer    uuid.UUID
	platform uuid.UUID
	partner  uuid.UUID
}

// newFixture initializes an engine with a 40/60 split and the standard
// principals, with SELLER, PLATFORM and PARTNER granted.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		assets:   token.NewAssetRegistry(),
		currency: token.NewCurrency(),
		engineID: uuid.New(),
		admin:    uuid.New(),
		seller:   uuid.New(),
		buyer:    uuid.New(),
		platform: uuid.New(),
		partner:  uuid.New(),
	}
	f.engine = NewService(f.engineID, f.assets, f.currency, nil, nil, logger.NewNop())

	ctx := context.Background()
	require.NoError(t, f.engine.Initialize(ctx, f.admin, pct(40), pct(60)))
	require.NoError(t, f.engine.GrantRole(ctx, f.admin, domain.CapabilitySeller, f.seller))
	require.NoError(t, f.engine.GrantRole(ctx, f.admin, domain.CapabilityPlatform, f.platform))
	require.NoError(t, f.engine.GrantRole(ctx, f.admin, domain.CapabilityPartner, f.partner))
	return f
}

// list mints, approves and lists quantity units of assetID at unitPrice.
func (f *fixture) list(t *testing.T, assetID, quantity uint64, unitPrice int64) {
	t.Helper()
	f.assets.Mint(f.seller, assetID, quantity)
	f.assets.SetApprovalForAll(f.seller, f.engineID, true)
	require.NoError(t, f.engine.ListForSale(context.Background(), f.seller,
		assetID, quantity, decimal.NewFromInt(unitPrice)))
}

// fund mints currency to the buyer and approves the engine for the amount.
func (f *fixture) fund(amount int64) {
	f.currency.Mint(f.buyer, decimal.NewFromInt(amount))
	f.currency.Approve(f.buyer, f.engineID, decimal.NewFromInt(amount))
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(want).Equal(got),
		"want %d, got %s", want, got)
}

// --- Initialization ---

func TestInitializeStoresConfigAndGrantsAdmin(t *testing.T) {
	f := newFixture(t)

	cfg, err := f.engine.ShareConfig()
	require.NoError(t, err)
	assert.Equal(t, pct(40), cfg.PlatformSharePercent)
	assert.Equal(t, pct(60), cfg.PartnerSharePercent)
	assert.True(t, f.engine.HasCapability(domain.CapabilityAdmin, f.admin))
	assert.True(t, f.engine.HasCapability(domain.CapabilitySeller, f.seller))
}

func TestInitializeTwiceFails(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Initialize(context.Background(), f.admin, pct(50), pct(50))
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadyInitialized)
}

func TestInitializeRejectsBadParameters(t *testing.T) {
	ctx := context.Background()
	newEngine := func() *Service {
		return NewService(uuid.New(), token.NewAssetRegistry(), token.NewCurrency(),
			nil, nil, logger.NewNop())
	}

	tests := []struct {
		name     string
		admin    uuid.UUID
		platform int64
		partner  int64
		wantErr  error
	}{
		{"sum above 100", uuid.New(), pct(50), pct(51), pkgerrors.ErrShareSumInvalid},
		{"sum below 100", uuid.New(), pct(50), pct(49), pkgerrors.ErrShareSumInvalid},
		{"both zero", uuid.New(), 0, 0, pkgerrors.ErrZeroPlatformShare},
		{"platform zero", uuid.New(), 0, pct(50), pkgerrors.ErrZeroPlatformShare},
		{"partner zero", uuid.New(), pct(50), 0, pkgerrors.ErrZeroPartnerShare},
		{"zero admin", uuid.Nil, pct(50), pct(50), pkgerrors.ErrZeroPrincipal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newEngine().Initialize(ctx, tt.admin, tt.platform, tt.partner)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestInitializeRejectsNilCollaborators(t *testing.T) {
	engine := NewService(uuid.New(), nil, nil, nil, nil, logger.NewNop())
	err := engine.Initialize(context.Background(), uuid.New(), pct(50), pct(50))
	assert.ErrorIs(t, err, pkgerrors.ErrZeroPrincipal)
}

func TestOperationsBeforeInitializeFail(t *testing.T) {
	engine := NewService(uuid.New(), token.NewAssetRegistry(), token.NewCurrency(),
		nil, nil, logger.NewNop())
	ctx := context.Background()

	err := engine.ListForSale(ctx, uuid.New(), 1, 1, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, pkgerrors.ErrNotInitialized)
	_, err = engine.Purchase(ctx, uuid.New(), 1, 1)
	assert.ErrorIs(t, err, pkgerrors.ErrNotInitialized)
	_, err = engine.WithdrawPlatformShare(ctx, uuid.New())
	assert.ErrorIs(t, err, pkgerrors.ErrNotInitialized)
}

// --- Listing ---

func TestListForSaleRequiresSellerCapability(t *testing.T) {
	f := newFixture(t)

	// Ownership is irrelevant: the buyer owns the asset but holds no SELLER.
	f.assets.Mint(f.buyer, 1, 5)
	f.assets.SetApprovalForAll(f.buyer, f.engineID, true)

	err := f.engine.ListForSale(context.Background(), f.buyer, 1, 5, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, pkgerrors.ErrUnauthorized)
}

func TestListForSaleRejectsZeroQuantity(t *testing.T) {
	f := newFixture(t)
	err := f.engine.ListForSale(context.Background(), f.seller, 1, 0, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, pkgerrors.ErrZeroQuantity)
}

func TestListForSaleRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	f.assets.Mint(f.seller, 1, 2)
	f.assets.SetApprovalForAll(f.seller, f.engineID, true)

	err := f.engine.ListForSale(context.Background(), f.seller, 1, 3, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, pkgerrors.ErrAssetNotOwned)
}

func TestListForSaleRequiresApproval(t *testing.T) {
	f := newFixture(t)
	f.assets.Mint(f.seller, 1, 1)

	err := f.engine.ListForSale(context.Background(), f.seller, 1, 1, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, pkgerrors.ErrAssetNotApproved)
}

func TestRelistReplacesPriorListing(t *testing.T) {
	f := newFixture(t)
	f.list(t, 1, 3, 100)

	// Relisting does not merge quantities; the new listing wins outright.
	require.NoError(t, f.engine.ListForSale(context.Background(), f.seller,
		1, 2, decimal.NewFromInt(250)))

	listing, err := f.engine.GetListing(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), listing.Quantity)
	assertAmount(t, 250, listing.UnitPrice)
}

// --- Purchase ---

func TestPurchaseCompleteFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.list(t, 1, 1, 100)
	f.fund(100)

	event, err := f.engine.Purchase(ctx, f.buyer, 1, 1)
	require.NoError(t, err)

	assertAmount(t, 100, event.TotalPrice)
	assertAmount(t, 40, event.PlatformShare)
	assertAmount(t, 60, event.PartnerShare)

	platformOwed, partnerOwed := f.engine.WithdrawableBalances()
	assertAmount(t, 40, platformOwed)
	assertAmount(t, 60, partnerOwed)

	buyerAssets, _ := f.assets.BalanceOf(ctx, f.buyer, 1)
	assert.Equal(t, uint64(1), buyerAssets)

	// The seller gains nothing directly; the full price sits in custody.
	sellerBalance, _ := f.currency.BalanceOf(ctx, f.seller)
	assertAmount(t, 0, sellerBalance)
	custody, _ := f.currency.BalanceOf(ctx, f.engineID)
	assertAmount(t, 100, custody)
}

func TestPurchaseAccumulatesAcrossSales(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.list(t, 1, 1, 100)
	f.list(t, 2, 1, 200)
	f.fund(300)

	_, err := f.engine.Purchase(ctx, f.buyer, 1, 1)
	require.NoError(t, err)
	_, err = f.engine.Purchase(ctx, f.buyer, 2, 1)
	require.NoError(t, err)

	platformOwed, partnerOwed := f.engine.WithdrawableBalances()
	assertAmount(t, 120, platformOwed)
	assertAmount(t, 180, partnerOwed)
}

func TestPurchaseNotListed(t *testing.T) {
	f := newFixture(t)
	f.fund(100)

	_, err := f.engine.Purchase(context.Background(), f.buyer, 99, 1)
	assert.ErrorIs(t, err, pkgerrors.ErrNotListed)
}

func TestPurchaseExceedsListedQuantity(t *testing.T) {
	f := newFixture(t)
	f.list(t, 1, 1, 100)
	f.fund(200)

	_, err := f.engine.Purchase(context.Background(), f.buyer, 1, 2)
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientListedQuantity)

	// The listing is untouched.
	listing, err := f.engine.GetListing(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), listing.Quantity)
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, 1, 1, 100)
	f.fund(99) // one unit short

	_, err := f.engine.Purchase(ctx, f.buyer, 1, 1)
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)

	// No ledger or listing mutation.
	platformOwed, partnerOwed := f.engine.WithdrawableBalances()
	assertAmount(t, 0, platformOwed)
	assertAmount(t, 0, partnerOwed)
	listing, err := f.engine.GetListing(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), listing.Quantity)
}

func TestPurchaseInsufficientAllowance(t *testing.T) {
	f := newFixture(t)
	f.list(t, 1, 1, 100)
	f.currency.Mint(f.buyer, decimal.NewFromInt(100))
	f.currency.Approve(f.buyer, f.engineID, decimal.NewFromInt(99))

	_, err := f.engine.Purchase(context.Background(), f.buyer, 1, 1)
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientAllowance)
}

func TestPurchaseExhaustsListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, 1, 1, 100)
	f.fund(200)

	_, err := f.engine.Purchase(ctx, f.buyer, 1, 1)
	require.NoError(t, err)

	// The exhausted id is indistinguishable from one never listed.
	_, err = f.engine.GetListing(1)
	assert.ErrorIs(t, err, pkgerrors.ErrNotListed)
	_, err = f.engine.Purchase(ctx, f.buyer, 1, 1)
	assert.ErrorIs(t, err, pkgerrors.ErrNotListed)
}

func TestPurchasePartialQuantityDecrements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, 1, 5, 10)
	f.fund(50)

	_, err := f.engine.Purchase(ctx, f.buyer, 1, 2)
	require.NoError(t, err)

	listing, err := f.engine.GetListing(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), listing.Quantity)

	platformOwed, partnerOwed := f.engine.WithdrawableBalances()
	assertAmount(t, 8, platformOwed)
	assertAmount(t, 12, partnerOwed)
}

func TestPurchaseHugeQuantityRejectsUnderfundedBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Quantities at or above 2^63 must not wrap negative in the total price:
	// a negative total would pass every balance guard and pay the buyer.
	const quantity = uint64(1) << 63
	f.assets.Mint(f.seller, 1, quantity)
	f.assets.SetApprovalForAll(f.seller, f.engineID, true)
	require.NoError(t, f.engine.ListForSale(ctx, f.seller, 1, quantity, decimal.NewFromInt(1)))

	_, err := f.engine.Purchase(ctx, f.buyer, 1, quantity)
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)

	buyerBalance, _ := f.currency.BalanceOf(ctx, f.buyer)
	assertAmount(t, 0, buyerBalance)
	platformOwed, partnerOwed := f.engine.WithdrawableBalances()
	assertAmount(t, 0, platformOwed)
	assertAmount(t, 0, partnerOwed)
}

func TestPurchaseHugeQuantityTotalPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const quantity = uint64(1) << 63
	f.assets.Mint(f.seller, 1, quantity)
	f.assets.SetApprovalForAll(f.seller, f.engineID, true)
	require.NoError(t, f.engine.ListForSale(ctx, f.seller, 1, quantity, decimal.NewFromInt(1)))

	total := decimal.NewFromBigInt(new(big.Int).SetUint64(quantity), 0)
	f.currency.Mint(f.buyer, total)
	f.currency.Approve(f.buyer, f.engineID, total)

	event, err := f.engine.Purchase(ctx, f.buyer, 1, quantity)
	require.NoError(t, err)
	assert.True(t, total.Equal(event.TotalPrice), "want %s, got %s", total, event.TotalPrice)
	assert.False(t, event.TotalPrice.IsNegative())

	custody, _ := f.currency.BalanceOf(ctx, f.engineID)
	assert.True(t, total.Equal(custody))
}

func TestPurchaseZeroPricedListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.assets.Mint(f.seller, 1, 1)
	f.assets.SetApprovalForAll(f.seller, f.engineID, true)
	require.NoError(t, f.engine.ListForSale(ctx, f.seller, 1, 1, decimal.Zero))

	// The buyer holds no currency and never approved the engine; a free
	// listing settles anyway.
	event, err := f.engine.Purchase(ctx, f.buyer, 1, 1)
	require.NoError(t, err)
	assertAmount(t, 0, event.TotalPrice)

	buyerAssets, _ := f.assets.BalanceOf(ctx, f.buyer, 1)
	assert.Equal(t, uint64(1), buyerAssets)
	platformOwed, partnerOwed := f.engine.WithdrawableBalances()
	assertAmount(t, 0, platformOwed)
	assertAmount(t, 0, partnerOwed)
}

// --- Withdrawal ---

func TestWithdrawalsDrainBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, 1, 1, 100)
	f.fund(100)
	_, err := f.engine.Purchase(ctx, f.buyer, 1, 1)
	require.NoError(t, err)

	amount, err := f.engine.WithdrawPlatformShare(ctx, f.platform)
	require.NoError(t, err)
	assertAmount(t, 40, amount)
	platformBalance, _ := f.currency.BalanceOf(ctx, f.platform)
	assertAmount(t, 40, platformBalance)

	amount, err = f.engine.WithdrawPartnerShare(ctx, f.partner)
	require.NoError(t, err)
	assertAmount(t, 60, amount)
	partnerBalance, _ := f.currency.BalanceOf(ctx, f.partner)
	assertAmount(t, 60, partnerBalance)

	platformOwed, partnerOwed := f.engine.WithdrawableBalances()
	assertAmount(t, 0, platformOwed)
	assertAmount(t, 0, partnerOwed)
	custody, _ := f.currency.BalanceOf(ctx, f.engineID)
	assertAmount(t, 0, custody)
}

func TestSecondWithdrawalFailsAndMovesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, 1, 1, 100)
	f.fund(100)
	_, err := f.engine.Purchase(ctx, f.buyer, 1, 1)
	require.NoError(t, err)

	_, err = f.engine.WithdrawPlatformShare(ctx, f.platform)
	require.NoError(t, err)

	_, err = f.engine.WithdrawPlatformShare(ctx, f.platform)
	assert.ErrorIs(t, err, pkgerrors.ErrNothingToWithdraw)
	platformBalance, _ := f.currency.BalanceOf(ctx, f.platform)
	assertAmount(t, 40, platformBalance)
}

func TestWithdrawRequiresCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.WithdrawPlatformShare(ctx, f.partner)
	assert.ErrorIs(t, err, pkgerrors.ErrUnauthorized)
	_, err = f.engine.WithdrawPartnerShare(ctx, f.platform)
	assert.ErrorIs(t, err, pkgerrors.ErrUnauthorized)
}

func TestWithdrawalsAreOrderIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, 1, 1, 100)
	f.fund(100)
	_, err := f.engine.Purchase(ctx, f.buyer, 1, 1)
	require.NoError(t, err)

	// Partner first, then platform.
	partnerAmount, err := f.engine.WithdrawPartnerShare(ctx, f.partner)
	require.NoError(t, err)
	platformAmount, err := f.engine.WithdrawPlatformShare(ctx, f.platform)
	require.NoError(t, err)

	assertAmount(t, 60, partnerAmount)
	assertAmount(t, 40, platformAmount)
}

// --- Rollback on collaborator failure ---

type failingAssetService struct {
	mock.Mock
}

func (m *failingAssetService) BalanceOf(ctx context.Context, owner uuid.UUID, assetID uint64) (uint64, error) {
	args := m.Called(ctx, owner, assetID)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *failingAssetService) IsApprovedForAll(ctx context.Context, owner, operator uuid.UUID) (bool, error) {
	args := m.Called(ctx, owner, operator)
	return args.Bool(0), args.Error(1)
}

func (m *failingAssetService) SafeTransferFrom(ctx context.Context, operator, from, to uuid.UUID, assetID, quantity uint64) error {
	args := m.Called(ctx, operator, from, to, assetID, quantity)
	return args.Error(0)
}

func TestPurchaseRollsBackWhenAssetTransferFails(t *testing.T) {
	ctx := context.Background()
	assets := new(failingAssetService)
	currency := token.NewCurrency()

	engineID := uuid.New()
	admin := uuid.New()
	seller := uuid.New()
	buyer := uuid.New()

	engine := NewService(engineID, assets, currency, nil, nil, logger.NewNop())
	require.NoError(t, engine.Initialize(ctx, admin, pct(40), pct(60)))
	require.NoError(t, engine.GrantRole(ctx, admin, domain.CapabilitySeller, seller))

	assets.On("BalanceOf", ctx, seller, uint64(1)).Return(uint64(1), nil)
	assets.On("IsApprovedForAll", ctx, seller, engineID).Return(true, nil)
	// The approval was revoked between listing and purchase.
	assets.On("SafeTransferFrom", ctx, engineID, seller, buyer, uint64(1), uint64(1)).
		Return(pkgerrors.ErrAssetNotApproved)

	require.NoError(t, engine.ListForSale(ctx, seller, 1, 1, decimal.NewFromInt(100)))
	currency.Mint(buyer, decimal.NewFromInt(100))
	currency.Approve(buyer, engineID, decimal.NewFromInt(100))

	_, err := engine.Purchase(ctx, buyer, 1, 1)
	assert.ErrorIs(t, err, pkgerrors.ErrAssetNotApproved)

	// The buyer was refunded and the ledger untouched.
	buyerBalance, _ := currency.BalanceOf(ctx, buyer)
	assertAmount(t, 100, buyerBalance)
	custody, _ := currency.BalanceOf(ctx, engineID)
	assertAmount(t, 0, custody)
	platformOwed, partnerOwed := engine.WithdrawableBalances()
	assertAmount(t, 0, platformOwed)
	assertAmount(t, 0, partnerOwed)

	// The listing survives for a later, valid purchase.
	listing, err := engine.GetListing(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), listing.Quantity)

	assets.AssertExpectations(t)
}

// --- Trail and events ---

type mockTrail struct {
	mock.Mock
}

func (m *mockTrail) SaveListing(ctx context.Context, listing *domain.Listing) error {
	args := m.Called(ctx, listing)
	return args.Error(0)
}

func (m *mockTrail) DeleteListing(ctx context.Context, assetID uint64) error {
	args := m.Called(ctx, assetID)
	return args.Error(0)
}

func (m *mockTrail) SaveRoleGrant(ctx context.Context, grant domain.RoleGrant) error {
	args := m.Called(ctx, grant)
	return args.Error(0)
}

func (m *mockTrail) DeleteRoleGrant(ctx context.Context, grant domain.RoleGrant) error {
	args := m.Called(ctx, grant)
	return args.Error(0)
}

func (m *mockTrail) RecordPurchase(ctx context.Context, event *domain.PurchaseEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockTrail) RecordWithdrawal(ctx context.Context, event *domain.WithdrawalEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type recordingPublisher struct {
	purchases   []domain.PurchaseEvent
	withdrawals []domain.WithdrawalEvent
}

func (p *recordingPublisher) PublishPurchase(event domain.PurchaseEvent) {
	p.purchases = append(p.purchases, event)
}

func (p *recordingPublisher) PublishWithdrawal(event domain.WithdrawalEvent) {
	p.withdrawals = append(p.withdrawals, event)
}

func TestPurchaseWritesTrailAndPublishes(t *testing.T) {
	ctx := context.Background()
	trail := new(mockTrail)
	pub := &recordingPublisher{}

	assets := token.NewAssetRegistry()
	currency := token.NewCurrency()
	engineID := uuid.New()
	admin := uuid.New()
	seller := uuid.New()
	buyer := uuid.New()

	engine := NewService(engineID, assets, currency, trail, pub, logger.NewNop())
	require.NoError(t, engine.Initialize(ctx, admin, pct(40), pct(60)))

	trail.On("SaveRoleGrant", ctx, mock.Anything).Return(nil)
	require.NoError(t, engine.GrantRole(ctx, admin, domain.CapabilitySeller, seller))

	assets.Mint(seller, 1, 1)
	assets.SetApprovalForAll(seller, engineID, true)
	trail.On("SaveListing", ctx, mock.Anything).Return(nil)
	require.NoError(t, engine.ListForSale(ctx, seller, 1, 1, decimal.NewFromInt(100)))

	currency.Mint(buyer, decimal.NewFromInt(100))
	currency.Approve(buyer, engineID, decimal.NewFromInt(100))

	trail.On("RecordPurchase", ctx, mock.Anything).Return(nil)
	trail.On("DeleteListing", ctx, uint64(1)).Return(nil)
	event, err := engine.Purchase(ctx, buyer, 1, 1)
	require.NoError(t, err)

	require.Len(t, pub.purchases, 1)
	assert.Equal(t, event.ID, pub.purchases[0].ID)
	assert.Equal(t, uint64(1), pub.purchases[0].AssetID)
	assert.Equal(t, buyer, pub.purchases[0].Buyer)

	trail.AssertExpectations(t)
}

// A trail failure must not fail the settlement: the in-memory engine is
// authoritative and the write-behind store is best effort.
func TestTrailFailureDoesNotAbortPurchase(t *testing.T) {
	ctx := context.Background()
	trail := new(mockTrail)

	assets := token.NewAssetRegistry()
	currency := token.NewCurrency()
	engineID := uuid.New()
	admin := uuid.New()
	seller := uuid.New()
	buyer := uuid.New()

	engine := NewService(engineID, assets, currency, trail, nil, logger.NewNop())
	require.NoError(t, engine.Initialize(ctx, admin, pct(40), pct(60)))

	trail.On("SaveRoleGrant", ctx, mock.Anything).Return(nil)
	require.NoError(t, engine.GrantRole(ctx, admin, domain.CapabilitySeller, seller))

	assets.Mint(seller, 1, 1)
	assets.SetApprovalForAll(seller, engineID, true)
	trail.On("SaveListing", ctx, mock.Anything).Return(nil)
	require.NoError(t, engine.ListForSale(ctx, seller, 1, 1, decimal.NewFromInt(100)))

	currency.Mint(buyer, decimal.NewFromInt(100))
	currency.Approve(buyer, engineID, decimal.NewFromInt(100))

	trail.On("RecordPurchase", ctx, mock.Anything).Return(assert.AnError)
	_, err := engine.Purchase(ctx, buyer, 1, 1)
	require.NoError(t, err)

	platformOwed, partnerOwed := engine.WithdrawableBalances()
	assertAmount(t, 40, platformOwed)
	assertAmount(t, 60, partnerOwed)
}

// --- Restore ---

func TestRestoreRehydratesState(t *testing.T) {
	f := newFixture(t)

	other := uuid.New()
	state := State{
		Listings: []domain.Listing{
			{AssetID: 7, Seller: f.seller, Quantity: 4, UnitPrice: decimal.NewFromInt(25)},
		},
		Grants: []domain.RoleGrant{
			{Capability: domain.CapabilitySeller, Principal: other},
		},
		PlatformOwed: decimal.NewFromInt(12),
		PartnerOwed:  decimal.NewFromInt(18),
	}
	require.NoError(t, f.engine.Restore(state))

	listing, err := f.engine.GetListing(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), listing.Quantity)
	assert.True(t, f.engine.HasCapability(domain.CapabilitySeller, other))

	platformOwed, partnerOwed := f.engine.WithdrawableBalances()
	assertAmount(t, 12, platformOwed)
	assertAmount(t, 18, partnerOwed)
}
