package services

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLedgerService_Settle(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	meta := &SettleMeta{
		TransactionID:  "BET-test",
		Game:           "dice",
		Outcome:        []int{4200},
		Hits:           1,
		Multiplier:     decimal.RequireFromString("2"),
		ServerSeed:     "aa",
		ServerSeedHash: "bb",
		ClientSeed:     "cc",
		Nonce:          7,
	}

	t.Run("settles a winning SC round", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT currency_mode FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"currency_mode"}).AddRow("SC"))

		mock.ExpectQuery("SELECT user_id, gc_balance, sc_balance, version, updated_at FROM balances").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "gc_balance", "sc_balance", "version", "updated_at"}).
				AddRow(1, 0, "100", 3, time.Now()))

		// BET then PAYOUT entry
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("BET-test", 1, sqlmock.AnyArg(), "SC", models.EntryBet, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("BET-test", 1, sqlmock.AnyArg(), "SC", models.EntryPayout, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectExec("INSERT INTO bet_records").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE balances SET gc_balance = \\$1, sc_balance = \\$2, version = version \\+ 1").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		balance, err := service.Settle(1, decimal.RequireFromString("10"), decimal.RequireFromString("20"), meta)
		assert.NoError(t, err)
		assert.True(t, balance.SC.Equal(decimal.RequireFromString("110")))
		assert.Equal(t, 4, balance.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects stake above balance", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT currency_mode FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"currency_mode"}).AddRow("SC"))

		mock.ExpectQuery("SELECT user_id, gc_balance, sc_balance, version, updated_at FROM balances").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "gc_balance", "sc_balance", "version", "updated_at"}).
				AddRow(1, 0, "5", 1, time.Now()))

		mock.ExpectRollback()

		_, err := service.Settle(1, decimal.RequireFromString("10"), decimal.Zero, meta)
		assert.True(t, errors.Is(err, models.ErrInsufficientBalance))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects fractional GC stake", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT currency_mode FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"currency_mode"}).AddRow("GC"))

		mock.ExpectRollback()

		_, err := service.Settle(1, decimal.RequireFromString("10.5"), decimal.Zero, meta)
		assert.True(t, errors.Is(err, models.ErrInvalidStake))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("floors GC payouts to whole credits", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT currency_mode FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"currency_mode"}).AddRow("GC"))

		mock.ExpectQuery("SELECT user_id, gc_balance, sc_balance, version, updated_at FROM balances").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "gc_balance", "sc_balance", "version", "updated_at"}).
				AddRow(1, 100, "0", 1, time.Now()))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec("INSERT INTO bet_records").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE balances").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		// 10 * 1.92 = 19.2, floored to 19
		balance, err := service.Settle(1, decimal.RequireFromString("10"), decimal.RequireFromString("19.2"), meta)
		assert.NoError(t, err)
		assert.Equal(t, int64(109), balance.GC)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when balance row was modified concurrently", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT currency_mode FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"currency_mode"}).AddRow("SC"))

		mock.ExpectQuery("SELECT user_id, gc_balance, sc_balance, version, updated_at FROM balances").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "gc_balance", "sc_balance", "version", "updated_at"}).
				AddRow(1, 0, "100", 3, time.Now()))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO bet_records").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE balances").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectRollback()

		_, err := service.Settle(1, decimal.RequireFromString("10"), decimal.Zero, meta)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_DebitWithdrawalTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("debits SC and writes the withdrawal entry", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT user_id, gc_balance, sc_balance, version, updated_at FROM balances").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "gc_balance", "sc_balance", "version", "updated_at"}).
				AddRow(2, 0, "50", 1, time.Now()))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("WD-1", 2, sqlmock.AnyArg(), "SC", models.EntryWithdrawal, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE balances").
			WillReturnResult(sqlmock.NewResult(1, 1))

		balance, err := service.DebitWithdrawalTx(tx, 2, decimal.RequireFromString("30"), "WD-1")
		assert.NoError(t, err)
		assert.True(t, balance.SC.Equal(decimal.RequireFromString("20")))
	})

	t.Run("rejects debit above redeemable balance", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT user_id, gc_balance, sc_balance, version, updated_at FROM balances").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "gc_balance", "sc_balance", "version", "updated_at"}).
				AddRow(2, 0, "10", 1, time.Now()))

		_, err := service.DebitWithdrawalTx(tx, 2, decimal.RequireFromString("30"), "WD-1")
		assert.True(t, errors.Is(err, models.ErrInsufficientBalance))
	})
}

func TestLedgerService_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("missing balance row maps to user not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, gc_balance, sc_balance, version, updated_at").
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "gc_balance", "sc_balance", "version", "updated_at"}))

		_, err := service.GetBalance(99)
		assert.True(t, errors.Is(err, models.ErrUserNotFound))
	})
}
