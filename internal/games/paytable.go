// Package games defines the closed set of supported game kinds and their
// typed pay tables. Tables are plain data validated once at startup, so a
// malformed table fails the process instead of a settlement.
package games

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies a supported game.
type Kind string

const (
	Keno Kind = "keno"
	Dice Kind = "dice"
)

// ParseKind maps a route identifier onto the closed game set.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case Keno, Dice:
		return Kind(s), true
	default:
		return "", false
	}
}

// RiskTier selects which keno pay table applies to a round.
type RiskTier string

const (
	TierLow     RiskTier = "low"
	TierClassic RiskTier = "classic"
	TierHigh    RiskTier = "high"
)

// ParseRiskTier defaults to the classic table when no tier is given.
func ParseRiskTier(s string) (RiskTier, bool) {
	switch RiskTier(s) {
	case "":
		return TierClassic, true
	case TierLow, TierClassic, TierHigh:
		return RiskTier(s), true
	default:
		return "", false
	}
}

// Keno board parameters: pick 1-10 distinct numbers on a 1-40 board, the
// house draws 10.
const (
	KenoNumbers  = 40
	KenoDraws    = 10
	KenoMinPicks = 1
	KenoMaxPicks = 10
)

// KenoPayTable maps pick count to raw multipliers indexed by hit count.
// Row p has p+1 entries (0..p hits). Raw values exclude the house edge.
type KenoPayTable map[int][]float64

var kenoTables = map[RiskTier]KenoPayTable{
	TierLow: {
		1:  {0.7, 1.85},
		2:  {0, 2, 3.8},
		3:  {0, 1.1, 1.38, 26},
		4:  {0, 0, 2.2, 7.9, 90},
		5:  {0, 0, 1.5, 4.2, 13, 300},
		6:  {0, 0, 1.1, 2, 6.2, 100, 700},
		7:  {0, 0, 1.1, 1.6, 3.5, 15, 225, 700},
		8:  {0, 0, 1.1, 1.5, 2, 5.5, 39, 100, 800},
		9:  {0, 0, 1.1, 1.3, 1.7, 2.5, 7.5, 50, 250, 1000},
		10: {0, 0, 1.1, 1.2, 1.3, 1.8, 3.5, 13, 50, 250, 1000},
	},
	TierClassic: {
		1:  {0, 3.8},
		2:  {0, 1.7, 5.1},
		3:  {0, 0, 2.7, 50},
		4:  {0, 0, 1.8, 10, 100},
		5:  {0, 0, 1.4, 4, 14, 390},
		6:  {0, 0, 0, 3, 9, 180, 710},
		7:  {0, 0, 0, 2, 7, 30, 400, 800},
		8:  {0, 0, 0, 2, 4, 11, 67, 400, 900},
		9:  {0, 0, 0, 2, 2.5, 5, 15, 100, 500, 1000},
		10: {0, 0, 0, 1.6, 2, 4, 7, 26, 100, 500, 1000},
	},
	TierHigh: {
		1:  {0, 3.96},
		2:  {0, 0, 17.1},
		3:  {0, 0, 0, 81.5},
		4:  {0, 0, 0, 10, 259},
		5:  {0, 0, 0, 4.5, 48, 450},
		6:  {0, 0, 0, 0, 11, 350, 710},
		7:  {0, 0, 0, 0, 7, 90, 400, 800},
		8:  {0, 0, 0, 0, 5, 20, 270, 600, 900},
		9:  {0, 0, 0, 0, 4, 11, 56, 500, 800, 1000},
		10: {0, 0, 0, 0, 3.5, 8, 13, 63, 500, 800, 1000},
	},
}

// KenoMultiplier looks up the raw multiplier for (picks, hits) in a tier.
func KenoMultiplier(tier RiskTier, picks, hits int) (decimal.Decimal, error) {
	table, ok := kenoTables[tier]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown keno risk tier %q", tier)
	}
	row, ok := table[picks]
	if !ok {
		return decimal.Zero, fmt.Errorf("no keno pay table row for %d picks", picks)
	}
	if hits < 0 || hits >= len(row) {
		return decimal.Zero, fmt.Errorf("hit count %d out of range for %d picks", hits, picks)
	}
	return decimal.NewFromFloat(row[hits]), nil
}

// Dice parameters: a roll in [0, 10000) read as two implied decimals; the
// player wins when the roll is strictly under the target.
const (
	DiceSpace     = 10000
	DiceMinTarget = 200
	DiceMaxTarget = 9800
)

// DiceMultiplier returns the raw roll-under multiplier for a target.
func DiceMultiplier(target int) decimal.Decimal {
	return decimal.NewFromInt(DiceSpace).DivRound(decimal.NewFromInt(int64(target)), 4)
}

// ValidateTables checks every pay table once at startup: each pick count from
// min to max is present, each row has an entry per possible hit count, no
// multiplier is negative, and every row pays something.
func ValidateTables() error {
	for _, tier := range []RiskTier{TierLow, TierClassic, TierHigh} {
		table, ok := kenoTables[tier]
		if !ok {
			return fmt.Errorf("missing keno pay table for tier %q", tier)
		}
		for picks := KenoMinPicks; picks <= KenoMaxPicks; picks++ {
			row, ok := table[picks]
			if !ok {
				return fmt.Errorf("tier %q: missing row for %d picks", tier, picks)
			}
			if len(row) != picks+1 {
				return fmt.Errorf("tier %q: row for %d picks has %d entries, want %d", tier, picks, len(row), picks+1)
			}
			paying := false
			for hits, m := range row {
				if m < 0 {
					return fmt.Errorf("tier %q: negative multiplier at picks=%d hits=%d", tier, picks, hits)
				}
				if m > 0 {
					paying = true
				}
			}
			if !paying {
				return fmt.Errorf("tier %q: row for %d picks never pays", tier, picks)
			}
		}
	}
	return nil
}
