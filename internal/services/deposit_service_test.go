package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDepositService_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDepositService(db, nil)

	t.Run("creates a pending purchase with QR checkout data", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO deposits").
			WillReturnResult(sqlmock.NewResult(1, 1))

		depositID, reference, qrImage, err := service.Create(context.Background(), 1, "starter")
		assert.NoError(t, err)
		assert.Contains(t, depositID, "DEP-")
		assert.NotEmpty(t, reference)
		assert.NotEmpty(t, qrImage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown package is rejected", func(t *testing.T) {
		_, _, _, err := service.Create(context.Background(), 1, "mega")
		assert.Error(t, err)
	})
}

func TestDepositService_Confirm(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewDepositService(db, redisClient)

	payload, _ := json.Marshal(depositReference{
		DepositID: "DEP-1",
		UserID:    1,
		PackageID: "starter",
	})
	reference := "test-reference"

	t.Run("credits the package once", func(t *testing.T) {
		redisMock.ExpectGet("deposit:" + reference).SetVal(string(payload))

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE deposits SET status").
			WithArgs(sqlmock.AnyArg(), "DEP-1").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT user_id, gc_balance, sc_balance, version, updated_at FROM balances").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "gc_balance", "sc_balance", "version", "updated_at"}).
				AddRow(1, 1000, "2", 1, time.Now()))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("DEP-1", 1, sqlmock.AnyArg(), "GC", models.EntryDeposit, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("DEP-1", 1, sqlmock.AnyArg(), "SC", models.EntryDeposit, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec("UPDATE balances").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()
		redisMock.ExpectDel("deposit:" + reference).SetVal(1)

		balance, err := service.Confirm(context.Background(), reference)
		assert.NoError(t, err)
		assert.Equal(t, int64(51_000), balance.GC)
		assert.True(t, balance.SC.Equal(decimal.RequireFromString("7")))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired reference is rejected", func(t *testing.T) {
		redisMock.ExpectGet("deposit:expired").RedisNil()

		_, err := service.Confirm(context.Background(), "expired")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid or expired")
	})

	t.Run("already confirmed deposit cannot credit twice", func(t *testing.T) {
		redisMock.ExpectGet("deposit:" + reference).SetVal(string(payload))

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE deposits SET status").
			WithArgs(sqlmock.AnyArg(), "DEP-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := service.Confirm(context.Background(), reference)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not pending")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
