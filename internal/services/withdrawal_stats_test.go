package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStatsStore_Recompute(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewStatsStore(db, nil)
	ctx := context.Background()

	t.Run("rebuilds the aggregate from history", func(t *testing.T) {
		mock.ExpectQuery("FROM withdrawals").
			WithArgs(1, models.WithdrawalConfirmed, models.WithdrawalFailed,
				models.WithdrawalSent, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(
				[]string{"total", "successful", "failed", "total_amount", "last24h_count", "last24h_amount"}).
				AddRow(10, 8, 2, "400", 2, "90"))

		mock.ExpectExec("INSERT INTO withdrawal_stats").
			WillReturnResult(sqlmock.NewResult(1, 1))

		stats, err := store.Recompute(ctx, 1, 25, true)
		assert.NoError(t, err)
		assert.Equal(t, 10, stats.TotalWithdrawals)
		assert.Equal(t, 8, stats.SuccessfulWithdrawals)
		assert.Equal(t, 2, stats.FailedWithdrawals)
		assert.Equal(t, 2, stats.Last24hCount)
		assert.True(t, stats.Last24hAmount.Equal(decimal.RequireFromString("90")))
		assert.True(t, stats.AverageAmount.Equal(decimal.RequireFromString("40")))
		assert.Equal(t, 25, stats.RiskScore)
		assert.True(t, stats.EligibleForInstant)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no history leaves the average at zero", func(t *testing.T) {
		mock.ExpectQuery("FROM withdrawals").
			WillReturnRows(sqlmock.NewRows(
				[]string{"total", "successful", "failed", "total_amount", "last24h_count", "last24h_amount"}).
				AddRow(0, 0, 0, "0", 0, "0"))

		mock.ExpectExec("INSERT INTO withdrawal_stats").
			WillReturnResult(sqlmock.NewResult(1, 1))

		stats, err := store.Recompute(ctx, 2, 78, false)
		assert.NoError(t, err)
		assert.True(t, stats.AverageAmount.IsZero())
		assert.False(t, stats.EligibleForInstant)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStatsStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewStatsStore(db, nil)
	ctx := context.Background()

	t.Run("reads the durable row", func(t *testing.T) {
		mock.ExpectQuery("FROM withdrawal_stats").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(
				[]string{"user_id", "last_24h_amount", "last_24h_count", "total_withdrawals",
					"successful_withdrawals", "failed_withdrawals", "total_withdrawn_amount",
					"average_amount", "risk_score", "eligible_for_instant", "updated_at"}).
				AddRow(1, "90", 2, 10, 8, 2, "400", "40", 25, true, time.Now()))

		stats, err := store.Get(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, 10, stats.TotalWithdrawals)
		assert.True(t, stats.TotalWithdrawnAmount.Equal(decimal.RequireFromString("400")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row maps to user not found", func(t *testing.T) {
		mock.ExpectQuery("FROM withdrawal_stats").
			WithArgs(9).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

		_, err := store.Get(ctx, 9)
		assert.True(t, errors.Is(err, models.ErrUserNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
