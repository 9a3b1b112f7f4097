package sale

import (
	"math/big"

	"github.com/shopspring/decimal"

	"nftsale/internal/domain"
	pkgerrors "nftsale/pkg/errors"
)

// decimalFromUint converts without the sign change an int64 round trip
// would introduce for values at or above 2^63.
func decimalFromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// NewShareConfig validates and builds the revenue split. Both percentages
// must be strictly positive and sum to exactly 100% (scaled by 10^8).
func NewShareConfig(platformSharePercent, partnerSharePercent int64) (domain.ShareConfig, error) {
	if platformSharePercent <= 0 {
		return domain.ShareConfig{}, pkgerrors.ErrZeroPlatformShare
	}
	if partnerSharePercent <= 0 {
		return domain.ShareConfig{}, pkgerrors.ErrZeroPartnerShare
	}
	if platformSharePercent+partnerSharePercent != domain.WholeSharePercent {
		return domain.ShareConfig{}, pkgerrors.ErrShareSumInvalid
	}
	return domain.ShareConfig{
		PlatformSharePercent: platformSharePercent,
		PartnerSharePercent:  partnerSharePercent,
	}, nil
}

// CalculateSplit divides totalAmount between platform and partner.
// The platform share is floored; the partner share absorbs the rounding
// remainder so the two always sum exactly to totalAmount.
func CalculateSplit(cfg domain.ShareConfig, totalAmount decimal.Decimal) (platformShare, partnerShare decimal.Decimal) {
	whole := decimal.NewFromInt(domain.WholeSharePercent)
	scaled := totalAmount.Mul(decimal.NewFromInt(cfg.PlatformSharePercent))
	// Integer quotient, truncated. Exact for arbitrarily large amounts.
	platformShare, _ = scaled.QuoRem(whole, 0)
	partnerShare = totalAmount.Sub(platformShare)
	return platformShare, partnerShare
}
