package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commitment is the pre-committed hidden server seed for a user's next round.
// Exactly one outstanding commitment exists per user; it is consumed and
// replaced atomically when the round settles and is never reused.
type Commitment struct {
	UserID         int       `json:"-" db:"user_id"`
	ServerSeed     []byte    `json:"-" db:"server_seed"` // secret until the round resolves
	ServerSeedHash string    `json:"serverSeedHash" db:"server_seed_hash"`
	ClientSeed     string    `json:"clientSeed" db:"client_seed"`
	Nonce          int64     `json:"nonce" db:"nonce"`
	CreatedAt      time.Time `json:"-" db:"created_at"`
}

// BetRecord is the immutable proof artifact written when a round settles.
// (user_id, nonce) is unique; a player can verify the outcome later from it.
type BetRecord struct {
	ID             int             `json:"id" db:"id"`
	TransactionID  string          `json:"transactionId" db:"transaction_id"`
	UserID         int             `json:"userId" db:"user_id"`
	Game           string          `json:"game" db:"game"`
	Currency       string          `json:"currency" db:"currency"`
	Stake          decimal.Decimal `json:"stake" db:"stake"`
	Outcome        []int           `json:"outcome" db:"outcome"`
	Hits           int             `json:"hits" db:"hits"`
	Multiplier     decimal.Decimal `json:"multiplier" db:"multiplier"`
	Payout         decimal.Decimal `json:"payout" db:"payout"`
	Profit         decimal.Decimal `json:"profit" db:"profit"`
	ServerSeedHash string          `json:"serverSeedHash" db:"server_seed_hash"`
	ServerSeed     string          `json:"serverSeed" db:"server_seed"` // revealed at settlement
	ClientSeed     string          `json:"clientSeed" db:"client_seed"`
	Nonce          int64           `json:"nonce" db:"nonce"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// RoundResult is the full proof bundle returned from /play.
// @Description Settled round with everything needed for independent verification
type RoundResult struct {
	Game           string          `json:"game"`
	Stake          decimal.Decimal `json:"stake"`
	Currency       string          `json:"currency,omitempty"`
	Outcome        []int           `json:"outcome"`
	Hits           int             `json:"hits"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	Payout         decimal.Decimal `json:"payout"`
	Profit         decimal.Decimal `json:"profit"`
	ServerSeed     string          `json:"serverSeed"`
	ServerSeedHash string          `json:"serverSeedHash"`
	ClientSeed     string          `json:"clientSeed"`
	Nonce          int64           `json:"nonce"`
	NextSeedHash   string          `json:"nextSeedHash"`
	NextNonce      int64           `json:"nextNonce"`
	Balance        *Balance        `json:"balance,omitempty"` // absent for anonymous play
}
