package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Account is the session's single balance. It is not safe for concurrent
// use on its own; the Ledger serializes access.
type Account struct {
	balance decimal.Decimal
}

func NewAccount(balance decimal.Decimal) *Account {
	return &Account{balance: balance}
}

func (a *Account) Balance() decimal.Decimal {
	return a.balance
}

func (a *Account) debit(amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.GreaterThan(a.balance) {
		return fmt.Errorf("%w: stake %s, balance %s", ErrInvalidStake, amount.String(), a.balance.String())
	}
	a.balance = a.balance.Sub(amount)
	return nil
}

func (a *Account) credit(amount decimal.Decimal) {
	a.balance = a.balance.Add(amount)
}
