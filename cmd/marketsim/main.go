// marketsim runs an end-to-end settlement flow against in-memory
// collaborators: initialize, grant roles, list, purchase, withdraw.
package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"nftsale/internal/domain"
	"nftsale/internal/sale"
	"nftsale/internal/token"
	"nftsale/pkg/logger"
)

func main() {
	log := logger.New("marketsim")
	ctx := context.Background()

	engineID := uuid.New()
	admin := uuid.New()
	seller := uuid.New()
	buyer := uuid.New()
	platform := uuid.New()
	partner := uuid.New()

	assets := token.NewAssetRegistry()
	currency := token.NewCurrency()
	engine := sale.NewService(engineID, assets, currency, nil, nil, log)

	must(engine.Initialize(ctx, admin,
		40*domain.SharePercentScale, 60*domain.SharePercentScale))
	must(engine.GrantRole(ctx, admin, domain.CapabilitySeller, seller))
	must(engine.GrantRole(ctx, admin, domain.CapabilityPlatform, platform))
	must(engine.GrantRole(ctx, admin, domain.CapabilityPartner, partner))

	const assetID = 1
	price := decimal.NewFromInt(100)

	assets.Mint(seller, assetID, 1)
	assets.SetApprovalForAll(seller, engineID, true)
	must(engine.ListForSale(ctx, seller, assetID, 1, price))

	currency.Mint(buyer, price)
	currency.Approve(buyer, engineID, price)
	event, err := engine.Purchase(ctx, buyer, assetID, 1)
	must(err)

	fmt.Printf("settled: asset %d for %s (platform %s / partner %s)\n",
		event.AssetID, event.TotalPrice, event.PlatformShare, event.PartnerShare)

	platformAmount, err := engine.WithdrawPlatformShare(ctx, platform)
	must(err)
	partnerAmount, err := engine.WithdrawPartnerShare(ctx, partner)
	must(err)

	platformBalance, _ := currency.BalanceOf(ctx, platform)
	partnerBalance, _ := currency.BalanceOf(ctx, partner)
	buyerAssets, _ := assets.BalanceOf(ctx, buyer, assetID)

	fmt.Printf("platform withdrew %s (balance %s)\n", platformAmount, platformBalance)
	fmt.Printf("partner withdrew %s (balance %s)\n", partnerAmount, partnerBalance)
	fmt.Printf("buyer now holds %d of asset %d\n", buyerAssets, assetID)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
