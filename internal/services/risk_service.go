package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/luckrush/backend/internal/config"
	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
)

// RiskEngine scores a withdrawal request from fresh transaction history.
// Scores are computed per request and never cached; a failed query fails the
// check instead of falling back to a default score.
type RiskEngine struct {
	db     *sql.DB
	policy *config.RiskPolicy
}

func NewRiskEngine(db *sql.DB, policy *config.RiskPolicy) *RiskEngine {
	if policy == nil {
		policy = config.DefaultRiskPolicy()
	}
	return &RiskEngine{db: db, policy: policy}
}

// Score evaluates the user's risk for withdrawing requestAmount. Each policy
// dimension contributes independently up to its cap; the final value is
// clamped to [0, MaxScore].
func (e *RiskEngine) Score(userID int, requestAmount decimal.Decimal) (*models.RiskScore, error) {
	factors, err := e.collectFactors(userID, requestAmount)
	if err != nil {
		return nil, err
	}

	components := map[string]int{
		e.policy.AccountAge.Name:     e.policy.AccountAge.Score(float64(factors.AccountAgeDays)),
		e.policy.WagerVolume.Name:    e.policy.WagerVolume.Score(factors.TotalWagered.InexactFloat64()),
		e.policy.RecentActivity.Name: e.policy.RecentActivity.Score(float64(factors.Last24hWithdrawals)),
	}

	if factors.WithdrawalHistoryCount == 0 {
		components[e.policy.WithdrawalHistory.Name] = e.policy.NoHistoryPoints
	} else {
		components[e.policy.WithdrawalHistory.Name] = e.policy.WithdrawalHistory.Score(factors.SuccessRate)
	}

	if factors.TotalDeposited.IsZero() {
		components[e.policy.DepositRatio.Name] = e.policy.ZeroDepositPoints
	} else {
		components[e.policy.DepositRatio.Name] = e.policy.DepositRatio.Score(factors.DepositToWithdrawRatio)
	}

	if !factors.KYCVerified {
		components["kyc"] = e.policy.KYCPoints
	}
	if factors.SuspiciousPatterns {
		components["suspicious"] = e.policy.SuspiciousPoints
	}

	total := 0
	for _, pts := range components {
		total += pts
	}
	if total > e.policy.MaxScore {
		total = e.policy.MaxScore
	}
	if total < 0 {
		total = 0
	}

	return &models.RiskScore{Value: total, Factors: *factors, Components: components}, nil
}

func (e *RiskEngine) collectFactors(userID int, requestAmount decimal.Decimal) (*models.RiskFactors, error) {
	factors := &models.RiskFactors{}

	var createdAt time.Time
	err := e.db.QueryRow(`
		SELECT created_at, vip_level, kyc_verified
		FROM users
		WHERE id = $1`, userID).
		Scan(&createdAt, &factors.VIPLevel, &factors.KYCVerified)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("risk: load user: %w", err)
	}
	factors.AccountAgeDays = int(time.Since(createdAt).Hours() / 24)

	err = e.db.QueryRow(`
		SELECT COALESCE(SUM(stake), 0)
		FROM bet_records
		WHERE user_id = $1`, userID).
		Scan(&factors.TotalWagered)
	if err != nil {
		return nil, fmt.Errorf("risk: sum wagers: %w", err)
	}

	err = e.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND entry_type = $2`, userID, models.EntryDeposit).
		Scan(&factors.TotalDeposited)
	if err != nil {
		return nil, fmt.Errorf("risk: sum deposits: %w", err)
	}

	var totalWithdrawn decimal.Decimal
	var confirmed int
	err = e.db.QueryRow(`
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $2),
		       COUNT(*) FILTER (WHERE created_at > $3),
		       COUNT(*) FILTER (WHERE status = $4 AND created_at > $3),
		       COALESCE(SUM(amount) FILTER (WHERE status IN ($2, $5)), 0)
		FROM withdrawals
		WHERE user_id = $1`,
		userID, models.WithdrawalConfirmed, time.Now().Add(-24*time.Hour),
		models.WithdrawalFailed, models.WithdrawalSent).
		Scan(&factors.WithdrawalHistoryCount, &confirmed,
			&factors.Last24hWithdrawals, &factors.Last24hFailed, &totalWithdrawn)
	if err != nil {
		return nil, fmt.Errorf("risk: aggregate withdrawals: %w", err)
	}

	if factors.WithdrawalHistoryCount > 0 {
		factors.SuccessRate = float64(confirmed) / float64(factors.WithdrawalHistoryCount)
	}
	if factors.TotalDeposited.IsPositive() {
		factors.DepositToWithdrawRatio = totalWithdrawn.Add(requestAmount).
			Div(factors.TotalDeposited).InexactFloat64()
	}

	if err := e.flagSuspicious(userID, requestAmount, totalWithdrawn, factors); err != nil {
		return nil, err
	}
	return factors, nil
}

// flagSuspicious applies the hard pattern rules. Any single hit sets the
// suspicious flag; the reasons are kept for audit logging.
func (e *RiskEngine) flagSuspicious(userID int, requestAmount, totalWithdrawn decimal.Decimal, factors *models.RiskFactors) error {
	if factors.TotalDeposited.IsZero() && (factors.WithdrawalHistoryCount > 0 || requestAmount.IsPositive()) {
		factors.SuspiciousReasons = append(factors.SuspiciousReasons, "withdrawal attempt with no deposit history")
	}

	if factors.Last24hFailed >= 3 {
		factors.SuspiciousReasons = append(factors.SuspiciousReasons,
			fmt.Sprintf("%d failed withdrawals in the last 24 hours", factors.Last24hFailed))
	}

	if factors.WithdrawalHistoryCount > 0 {
		avg := totalWithdrawn.Div(decimal.NewFromInt(int64(factors.WithdrawalHistoryCount)))
		if avg.IsPositive() && requestAmount.GreaterThan(avg.Mul(decimal.NewFromInt(3))) {
			factors.SuspiciousReasons = append(factors.SuspiciousReasons,
				"requested amount exceeds three times the historical average")
		}
	}

	var recentDeposit bool
	err := e.db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE user_id = $1 AND entry_type = $2 AND created_at > $3
		)`, userID, models.EntryDeposit, time.Now().Add(-time.Hour)).Scan(&recentDeposit)
	if err != nil {
		return fmt.Errorf("risk: recent deposit check: %w", err)
	}
	if recentDeposit {
		factors.SuspiciousReasons = append(factors.SuspiciousReasons,
			"withdrawal requested within one hour of a deposit")
	}

	factors.SuspiciousPatterns = len(factors.SuspiciousReasons) > 0
	return nil
}
