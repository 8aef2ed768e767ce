package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry types. Entries are append-only; balances can always be
// reconstructed by replaying them per user and currency.
const (
	EntryBet        = "BET"
	EntryPayout     = "PAYOUT"
	EntryDeposit    = "DEPOSIT"
	EntryWithdrawal = "WITHDRAWAL"
	EntryRefund     = "REFUND"
	EntryGrant      = "GRANT"
)

type LedgerEntry struct {
	ID            int             `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	UserID        int             `json:"user_id" db:"user_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // signed
	Currency      string          `json:"currency" db:"currency"`
	EntryType     string          `json:"entry_type" db:"entry_type"`
	Balance       decimal.Decimal `json:"balance" db:"balance"` // balance after this entry
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
