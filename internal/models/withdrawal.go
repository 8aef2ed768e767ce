package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal statuses.
const (
	WithdrawalPending   = "PENDING"
	WithdrawalSent      = "SENT"
	WithdrawalConfirmed = "CONFIRMED"
	WithdrawalFailed    = "FAILED"
)

type Withdrawal struct {
	ID          string          `json:"id" db:"id"`
	UserID      int             `json:"userId" db:"user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"` // SC
	Destination string          `json:"destination" db:"destination"`
	Status      string          `json:"status" db:"status"`
	RiskScore   int             `json:"riskScore" db:"risk_score"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// WithdrawalStats is the per-user rolling aggregate row. It is always
// recomputed in full from the withdrawal history, never patched
// incrementally, so concurrent writers cannot make it drift.
type WithdrawalStats struct {
	UserID                int             `json:"userId" db:"user_id"`
	Last24hAmount         decimal.Decimal `json:"last24hWithdrawnAmount" db:"last_24h_amount"`
	Last24hCount          int             `json:"last24hWithdrawalCount" db:"last_24h_count"`
	TotalWithdrawals      int             `json:"totalWithdrawals" db:"total_withdrawals"`
	SuccessfulWithdrawals int             `json:"successfulWithdrawals" db:"successful_withdrawals"`
	FailedWithdrawals     int             `json:"failedWithdrawals" db:"failed_withdrawals"`
	TotalWithdrawnAmount  decimal.Decimal `json:"totalWithdrawnAmount" db:"total_withdrawn_amount"`
	AverageAmount         decimal.Decimal `json:"averageWithdrawalAmount" db:"average_amount"`
	RiskScore             int             `json:"riskScore" db:"risk_score"`
	EligibleForInstant    bool            `json:"isEligibleForInstant" db:"eligible_for_instant"`
	UpdatedAt             time.Time       `json:"updatedAt" db:"updated_at"`
}

// RiskFactors are derived fresh from transaction history on every check and
// never cached beyond one request.
type RiskFactors struct {
	AccountAgeDays         int             `json:"accountAgeDays"`
	TotalWagered           decimal.Decimal `json:"totalWagered"`
	TotalDeposited         decimal.Decimal `json:"totalDeposited"`
	WithdrawalHistoryCount int             `json:"withdrawalHistoryCount"`
	SuccessRate            float64         `json:"successRate"`
	Last24hWithdrawals     int             `json:"last24hWithdrawalCount"`
	Last24hFailed          int             `json:"last24hFailedCount"`
	DepositToWithdrawRatio float64         `json:"depositToWithdrawalRatio"`
	VIPLevel               int             `json:"vipLevel"`
	KYCVerified            bool            `json:"kycVerified"`
	SuspiciousPatterns     bool            `json:"suspiciousPatterns"`
	SuspiciousReasons      []string        `json:"suspiciousReasons,omitempty"`
}

// RiskScore is the risk engine's verdict, clamped to [0, 100].
type RiskScore struct {
	Value      int            `json:"value"`
	Factors    RiskFactors    `json:"factors"`
	Components map[string]int `json:"components"`
}

// EligibilityResult is the withdrawal gate's answer. Every violated rule
// contributes a reason; IsEligible is true only when Reasons is empty.
type EligibilityResult struct {
	IsEligible       bool             `json:"isEligible"`
	RiskScore        int              `json:"riskScore"`
	Reasons          []string         `json:"reasons"`
	MaxInstantAmount *decimal.Decimal `json:"maxInstantAmount,omitempty"`
}
