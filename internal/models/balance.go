package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the dual-currency balance row for a user. GC is held in integer
// minor units, SC as a decimal. Mutated only inside a ledger transaction.
type Balance struct {
	UserID    int             `json:"userId" db:"user_id"`
	GC        int64           `json:"gcBalance" db:"gc_balance"`
	SC        decimal.Decimal `json:"scBalance" db:"sc_balance"`
	Version   int             `json:"-" db:"version"` // for optimistic locking
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// Amount returns the balance in the given currency mode as a decimal.
func (b *Balance) Amount(mode string) decimal.Decimal {
	if mode == CurrencyGC {
		return decimal.NewFromInt(b.GC)
	}
	return b.SC
}
