// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Initialization errors
var (
	ErrAlreadyInitialized = errors.New("sale contract already initialized")
	ErrNotInitialized     = errors.New("sale contract not initialized")
	ErrZeroPlatformShare  = errors.New("platform share is zero")
	ErrZeroPartnerShare   = errors.New("partner share is zero")
	ErrShareSumInvalid    = errors.New("platform and partner share is not equal to 100%")
	ErrZeroPrincipal      = errors.New("principal is zero")
)

// Authorization errors
var (
	ErrUnauthorized       = errors.New("caller does not hold the required capability")
	ErrUnknownCapability  = errors.New("unknown capability")
	ErrAdminRoleImmutable = errors.New("admin role cannot be granted or revoked")
)

// Listing errors
var (
	ErrZeroQuantity     = errors.New("quantity is zero")
	ErrNegativePrice    = errors.New("unit price is negative")
	ErrAssetNotOwned    = errors.New("caller does not own enough of the asset")
	ErrAssetNotApproved = errors.New("caller has not approved the sale contract as operator")
)

// Purchase and withdrawal errors
var (
	ErrNotListed                  = errors.New("asset id is not on sale")
	ErrInsufficientListedQuantity = errors.New("purchase quantity exceeds listed quantity")
	ErrInsufficientFunds          = errors.New("buyer has not enough currency")
	ErrInsufficientAllowance      = errors.New("buyer allowance is not enough")
	ErrNothingToWithdraw          = errors.New("nothing to withdraw")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
