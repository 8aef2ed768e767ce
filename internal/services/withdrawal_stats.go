package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
)

const statsCacheTTL = 5 * time.Minute

// StatsStore maintains the per-user withdrawal aggregate row. The row is
// always recomputed in full from the withdrawals table; redis only serves as
// a read-through cache on top of the durable row.
type StatsStore struct {
	db    *sql.DB
	redis *redis.Client
}

func NewStatsStore(db *sql.DB, redisClient *redis.Client) *StatsStore {
	return &StatsStore{db: db, redis: redisClient}
}

// Recompute rebuilds the user's stats from scratch and upserts the row.
// riskScore and eligible come from the most recent eligibility check.
func (s *StatsStore) Recompute(ctx context.Context, userID, riskScore int, eligible bool) (*models.WithdrawalStats, error) {
	stats := &models.WithdrawalStats{
		UserID:             userID,
		RiskScore:          riskScore,
		EligibleForInstant: eligible,
		UpdatedAt:          time.Now(),
	}

	// SENT counts as withdrawn for the 24h window and totals; money has left
	// the balance even though the processor has not confirmed yet.
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $2),
		       COUNT(*) FILTER (WHERE status = $3),
		       COALESCE(SUM(amount) FILTER (WHERE status IN ($2, $4)), 0),
		       COUNT(*) FILTER (WHERE created_at > $5 AND status != $3),
		       COALESCE(SUM(amount) FILTER (WHERE created_at > $5 AND status != $3), 0)
		FROM withdrawals
		WHERE user_id = $1`,
		userID, models.WithdrawalConfirmed, models.WithdrawalFailed,
		models.WithdrawalSent, time.Now().Add(-24*time.Hour)).
		Scan(&stats.TotalWithdrawals, &stats.SuccessfulWithdrawals, &stats.FailedWithdrawals,
			&stats.TotalWithdrawnAmount, &stats.Last24hCount, &stats.Last24hAmount)
	if err != nil {
		return nil, fmt.Errorf("stats: aggregate: %w", err)
	}

	if stats.TotalWithdrawals > 0 {
		stats.AverageAmount = stats.TotalWithdrawnAmount.
			DivRound(decimal.NewFromInt(int64(stats.TotalWithdrawals)), 2)
	}

	_, err = s.db.Exec(`
		INSERT INTO withdrawal_stats
		(user_id, last_24h_amount, last_24h_count, total_withdrawals, successful_withdrawals,
		 failed_withdrawals, total_withdrawn_amount, average_amount, risk_score,
		 eligible_for_instant, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE
		SET last_24h_amount = EXCLUDED.last_24h_amount,
		    last_24h_count = EXCLUDED.last_24h_count,
		    total_withdrawals = EXCLUDED.total_withdrawals,
		    successful_withdrawals = EXCLUDED.successful_withdrawals,
		    failed_withdrawals = EXCLUDED.failed_withdrawals,
		    total_withdrawn_amount = EXCLUDED.total_withdrawn_amount,
		    average_amount = EXCLUDED.average_amount,
		    risk_score = EXCLUDED.risk_score,
		    eligible_for_instant = EXCLUDED.eligible_for_instant,
		    updated_at = EXCLUDED.updated_at`,
		stats.UserID, stats.Last24hAmount, stats.Last24hCount, stats.TotalWithdrawals,
		stats.SuccessfulWithdrawals, stats.FailedWithdrawals, stats.TotalWithdrawnAmount,
		stats.AverageAmount, stats.RiskScore, stats.EligibleForInstant, stats.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("stats: upsert: %w", err)
	}

	s.cache(ctx, stats)
	return stats, nil
}

// Get serves from redis when fresh, otherwise falls back to the durable row.
func (s *StatsStore) Get(ctx context.Context, userID int) (*models.WithdrawalStats, error) {
	if s.redis != nil {
		data, err := s.redis.Get(ctx, statsCacheKey(userID)).Bytes()
		if err == nil {
			stats := &models.WithdrawalStats{}
			if jerr := json.Unmarshal(data, stats); jerr == nil {
				return stats, nil
			}
		}
	}

	stats := &models.WithdrawalStats{}
	err := s.db.QueryRow(`
		SELECT user_id, last_24h_amount, last_24h_count, total_withdrawals,
		       successful_withdrawals, failed_withdrawals, total_withdrawn_amount,
		       average_amount, risk_score, eligible_for_instant, updated_at
		FROM withdrawal_stats
		WHERE user_id = $1`, userID).
		Scan(&stats.UserID, &stats.Last24hAmount, &stats.Last24hCount, &stats.TotalWithdrawals,
			&stats.SuccessfulWithdrawals, &stats.FailedWithdrawals, &stats.TotalWithdrawnAmount,
			&stats.AverageAmount, &stats.RiskScore, &stats.EligibleForInstant, &stats.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	s.cache(ctx, stats)
	return stats, nil
}

func (s *StatsStore) cache(ctx context.Context, stats *models.WithdrawalStats) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, statsCacheKey(stats.UserID), data, statsCacheTTL).Err(); err != nil {
		log.Printf("[STATS] Failed to cache stats for user %d: %v", stats.UserID, err)
	}
}

func statsCacheKey(userID int) string {
	return fmt.Sprintf("wstats:%d", userID)
}
