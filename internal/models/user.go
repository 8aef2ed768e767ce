package models

import "time"

// User represents a platform account
// @Description Player account structure
type User struct {
	ID           int    `json:"id" example:"1"`                   // User ID
	Email        string `json:"email" example:"user@example.com"` // User email
	Username     string `json:"username" example:"luckyjohn"`     // Display name
	VIPLevel     int    `json:"vipLevel" example:"2"`             // VIP tier, 0 = none
	KYCVerified  bool   `json:"kycVerified"`
	CurrencyMode string `json:"currencyMode" example:"SC"` // Active wagering currency: GC or SC
	Role         string `json:"role,omitempty"`
	LastLogin    *time.Time
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"-"`
}

// Currency modes. A settlement debits and credits exactly one of the two.
const (
	CurrencyGC = "GC" // play credits, integer minor units
	CurrencySC = "SC" // redeemable credits, decimal
)
