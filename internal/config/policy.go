package config

import (
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// WithdrawalPolicy holds the static thresholds the eligibility gate applies
// on top of the risk score. Amounts are SC.
type WithdrawalPolicy struct {
	InstantEnabled    bool
	MinVIPLevel       int
	RequireKYC        bool
	MinAccountAgeDays int
	MinTotalWagered   decimal.Decimal
	MinTotalDeposited decimal.Decimal
	MaxPerTransaction decimal.Decimal
	MaxPer24h         decimal.Decimal
	MaxRiskScore      int
}

func LoadWithdrawalPolicy() *WithdrawalPolicy {
	return &WithdrawalPolicy{
		InstantEnabled:    getEnvAsBool("WITHDRAWAL_INSTANT_ENABLED", true),
		MinVIPLevel:       getEnvAsInt("WITHDRAWAL_MIN_VIP_LEVEL", 0),
		RequireKYC:        getEnvAsBool("WITHDRAWAL_REQUIRE_KYC", true),
		MinAccountAgeDays: getEnvAsInt("WITHDRAWAL_MIN_ACCOUNT_AGE_DAYS", 3),
		MinTotalWagered:   getEnvAsDecimal("WITHDRAWAL_MIN_TOTAL_WAGERED", "25"),
		MinTotalDeposited: getEnvAsDecimal("WITHDRAWAL_MIN_TOTAL_DEPOSITED", "10"),
		MaxPerTransaction: getEnvAsDecimal("WITHDRAWAL_MAX_PER_TRANSACTION", "250"),
		MaxPer24h:         getEnvAsDecimal("WITHDRAWAL_MAX_PER_24H", "500"),
		MaxRiskScore:      getEnvAsInt("WITHDRAWAL_MAX_RISK_SCORE", 60),
	}
}

// Band is one row of a risk dimension table. Interpretation depends on the
// dimension's Mode: "below" bands match when the value is under Limit (listed
// ascending), "above" bands match when the value is at least Limit (listed
// descending). The first matching band wins; no match scores zero.
type Band struct {
	Limit  float64
	Points int
}

const (
	ModeBelow = "below"
	ModeAbove = "above"
)

// Dimension is one independently-capped axis of the risk score.
type Dimension struct {
	Name  string
	Cap   int
	Mode  string
	Bands []Band
}

// Score maps a factor value onto the dimension's points, capped.
func (d Dimension) Score(v float64) int {
	for _, b := range d.Bands {
		matched := (d.Mode == ModeBelow && v < b.Limit) ||
			(d.Mode == ModeAbove && v >= b.Limit)
		if matched {
			if b.Points > d.Cap {
				return d.Cap
			}
			return b.Points
		}
	}
	return 0
}

// RiskPolicy is the full weighting table for the risk engine. Dimension caps
// sum to the maximum score, so the clamp in the engine is a backstop rather
// than a working part of the model.
type RiskPolicy struct {
	AccountAge        Dimension // value: account age in days
	WagerVolume       Dimension // value: lifetime wagered, SC-equivalent
	WithdrawalHistory Dimension // value: historical success rate 0..1
	NoHistoryPoints   int       // applied instead when there is no history
	RecentActivity    Dimension // value: withdrawals in the last 24h
	DepositRatio      Dimension // value: totalWithdrawn / totalDeposited
	ZeroDepositPoints int       // applied instead when nothing was deposited
	KYCPoints         int       // applied when KYC is not verified
	SuspiciousPoints  int       // applied when any suspicious rule fired
	MaxScore          int
}

func DefaultRiskPolicy() *RiskPolicy {
	return &RiskPolicy{
		AccountAge: Dimension{
			Name: "account_age", Cap: 20, Mode: ModeBelow,
			Bands: []Band{{1, 20}, {7, 15}, {30, 10}, {90, 5}},
		},
		WagerVolume: Dimension{
			Name: "wager_volume", Cap: 15, Mode: ModeBelow,
			Bands: []Band{{10, 15}, {100, 10}, {1000, 5}},
		},
		WithdrawalHistory: Dimension{
			Name: "withdrawal_history", Cap: 15, Mode: ModeBelow,
			Bands: []Band{{0.5, 15}, {0.8, 8}},
		},
		NoHistoryPoints: 8,
		RecentActivity: Dimension{
			Name: "recent_activity", Cap: 15, Mode: ModeAbove,
			Bands: []Band{{5, 15}, {3, 10}, {1, 4}},
		},
		DepositRatio: Dimension{
			Name: "deposit_ratio", Cap: 15, Mode: ModeAbove,
			Bands: []Band{{3, 15}, {2, 10}, {1, 6}},
		},
		ZeroDepositPoints: 15,
		KYCPoints:         10,
		SuspiciousPoints:  10,
		MaxScore:          100,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key, defaultVal string) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(defaultVal)
	return d
}
