package token

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "nftsale/pkg/errors"
)

// CurrencyService is the fungible settlement currency. Semantics follow an
// allowance/transfer-from token: the engine pulls funds a buyer has
// approved, and pushes funds out of its own custody on withdrawal.
type CurrencyService interface {
	BalanceOf(ctx context.Context, account uuid.UUID) (decimal.Decimal, error)
	Allowance(ctx context.Context, owner, spender uuid.UUID) (decimal.Decimal, error)
	// TransferFrom moves amount from owner to spender, consuming allowance.
	TransferFrom(ctx context.Context, owner, spender uuid.UUID, amount decimal.Decimal) error
	// Transfer moves amount out of from's own balance.
	Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal) error
}

// Currency is an in-memory CurrencyService.
type Currency struct {
	mu         sync.RWMutex
	balances   map[uuid.UUID]decimal.Decimal
	allowances map[uuid.UUID]map[uuid.UUID]decimal.Decimal
}

func NewCurrency() *Currency {
	return &Currency{
		balances:   make(map[uuid.UUID]decimal.Decimal),
		allowances: make(map[uuid.UUID]map[uuid.UUID]decimal.Decimal),
	}
}

// Mint credits amount to account.
func (c *Currency) Mint(account uuid.UUID, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = c.balances[account].Add(amount)
}

// Approve sets spender's allowance over owner's balance.
func (c *Currency) Approve(owner, spender uuid.UUID, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allowances[owner] == nil {
		c.allowances[owner] = make(map[uuid.UUID]decimal.Decimal)
	}
	c.allowances[owner][spender] = amount
}

func (c *Currency) BalanceOf(ctx context.Context, account uuid.UUID) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balances[account], nil
}

func (c *Currency) Allowance(ctx context.Context, owner, spender uuid.UUID) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allowances[owner][spender], nil
}

func (c *Currency) TransferFrom(ctx context.Context, owner, spender uuid.UUID, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.allowances[owner][spender].LessThan(amount) {
		return pkgerrors.ErrInsufficientAllowance
	}
	if c.balances[owner].LessThan(amount) {
		return pkgerrors.ErrInsufficientFunds
	}

	// A zero-amount pull passes the guards with no prior Approve call.
	if c.allowances[owner] == nil {
		c.allowances[owner] = make(map[uuid.UUID]decimal.Decimal)
	}
	c.allowances[owner][spender] = c.allowances[owner][spender].Sub(amount)
	c.balances[owner] = c.balances[owner].Sub(amount)
	c.balances[spender] = c.balances[spender].Add(amount)
	return nil
}

func (c *Currency) Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.balances[from].LessThan(amount) {
		return pkgerrors.ErrInsufficientFunds
	}

	c.balances[from] = c.balances[from].Sub(amount)
	c.balances[to] = c.balances[to].Add(amount)
	return nil
}
