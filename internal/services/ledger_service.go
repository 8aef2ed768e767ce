package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerService is the sole mutation point for balances. Every mutation runs
// inside a single database transaction: the balance row is locked FOR UPDATE,
// funds are verified, append-only ledger entries are written, and the balance
// is updated with an optimistic version check. No partial state is ever
// visible to a concurrent reader.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// SettleMeta carries the proof fields persisted with a settled round.
type SettleMeta struct {
	TransactionID  string
	Game           string
	Outcome        []int
	Hits           int
	Multiplier     decimal.Decimal
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     string
	Nonce          int64
}

// Settle runs SettleTx in its own transaction.
func (s *LedgerService) Settle(userID int, stake, payout decimal.Decimal, meta *SettleMeta) (*models.Balance, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	balance, err := s.SettleTx(tx, userID, stake, payout, meta)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return balance, nil
}

// SettleTx debits the stake, credits the payout and writes the BET/PAYOUT
// ledger entries plus the immutable bet record, all against the caller's
// transaction. The currency mode is read once and used for both legs.
func (s *LedgerService) SettleTx(tx *sql.Tx, userID int, stake, payout decimal.Decimal, meta *SettleMeta) (*models.Balance, error) {
	mode, err := s.currencyMode(tx, userID)
	if err != nil {
		return nil, err
	}

	// GC is integer minor units: whole-credit stakes, payouts floored.
	if mode == models.CurrencyGC {
		if !stake.IsInteger() {
			return nil, fmt.Errorf("%w: GC stakes must be whole credits", models.ErrInvalidStake)
		}
		payout = payout.Floor()
	}

	balance, err := s.lockBalance(tx, userID)
	if err != nil {
		return nil, err
	}

	if balance.Amount(mode).LessThan(stake) {
		return nil, models.ErrInsufficientBalance
	}

	afterDebit := balance.Amount(mode).Sub(stake)
	if err := s.createLedgerEntry(tx, meta.TransactionID, userID, stake.Neg(), mode, models.EntryBet, afterDebit); err != nil {
		return nil, err
	}

	afterCredit := afterDebit
	if payout.IsPositive() {
		afterCredit = afterDebit.Add(payout)
		if err := s.createLedgerEntry(tx, meta.TransactionID, userID, payout, mode, models.EntryPayout, afterCredit); err != nil {
			return nil, err
		}
	}

	if err := s.insertBetRecord(tx, userID, mode, stake, payout, meta); err != nil {
		return nil, err
	}

	s.applyAmount(balance, mode, afterCredit)
	if err := s.updateBalance(tx, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// DebitWithdrawalTx debits redeemable funds for an approved withdrawal.
// Withdrawals only ever touch the SC balance.
func (s *LedgerService) DebitWithdrawalTx(tx *sql.Tx, userID int, amount decimal.Decimal, withdrawalID string) (*models.Balance, error) {
	balance, err := s.lockBalance(tx, userID)
	if err != nil {
		return nil, err
	}

	if balance.SC.LessThan(amount) {
		return nil, models.ErrInsufficientBalance
	}

	after := balance.SC.Sub(amount)
	if err := s.createLedgerEntry(tx, withdrawalID, userID, amount.Neg(), models.CurrencySC, models.EntryWithdrawal, after); err != nil {
		return nil, err
	}

	balance.SC = after
	if err := s.updateBalance(tx, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// RefundWithdrawalTx returns the SC debit of a failed withdrawal.
func (s *LedgerService) RefundWithdrawalTx(tx *sql.Tx, userID int, amount decimal.Decimal, withdrawalID string) (*models.Balance, error) {
	balance, err := s.lockBalance(tx, userID)
	if err != nil {
		return nil, err
	}

	after := balance.SC.Add(amount)
	if err := s.createLedgerEntry(tx, withdrawalID, userID, amount, models.CurrencySC, models.EntryRefund, after); err != nil {
		return nil, err
	}

	balance.SC = after
	if err := s.updateBalance(tx, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// CreditDepositTx credits a confirmed deposit: GC package plus SC bonus.
func (s *LedgerService) CreditDepositTx(tx *sql.Tx, userID int, gcAmount int64, scAmount decimal.Decimal, depositID string) (*models.Balance, error) {
	balance, err := s.lockBalance(tx, userID)
	if err != nil {
		return nil, err
	}

	if gcAmount > 0 {
		balance.GC += gcAmount
		if err := s.createLedgerEntry(tx, depositID, userID, decimal.NewFromInt(gcAmount), models.CurrencyGC, models.EntryDeposit, decimal.NewFromInt(balance.GC)); err != nil {
			return nil, err
		}
	}
	if scAmount.IsPositive() {
		balance.SC = balance.SC.Add(scAmount)
		if err := s.createLedgerEntry(tx, depositID, userID, scAmount, models.CurrencySC, models.EntryDeposit, balance.SC); err != nil {
			return nil, err
		}
	}

	if err := s.updateBalance(tx, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// GetBalance reads the current balance outside any transaction.
func (s *LedgerService) GetBalance(userID int) (*models.Balance, error) {
	balance := &models.Balance{}
	err := s.db.QueryRow(`
		SELECT user_id, gc_balance, sc_balance, version, updated_at
		FROM balances
		WHERE user_id = $1`, userID).
		Scan(&balance.UserID, &balance.GC, &balance.SC, &balance.Version, &balance.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *LedgerService) currencyMode(tx *sql.Tx, userID int) (string, error) {
	var mode string
	err := tx.QueryRow(`SELECT currency_mode FROM users WHERE id = $1`, userID).Scan(&mode)
	if err == sql.ErrNoRows {
		return "", models.ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	if mode != models.CurrencyGC && mode != models.CurrencySC {
		return "", fmt.Errorf("invalid currency mode %q for user %d", mode, userID)
	}
	return mode, nil
}

func (s *LedgerService) lockBalance(tx *sql.Tx, userID int) (*models.Balance, error) {
	balance := &models.Balance{}
	err := tx.QueryRow(`
		SELECT user_id, gc_balance, sc_balance, version, updated_at
		FROM balances
		WHERE user_id = $1
		FOR UPDATE`, userID).
		Scan(&balance.UserID, &balance.GC, &balance.SC, &balance.Version, &balance.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *LedgerService) applyAmount(balance *models.Balance, mode string, amount decimal.Decimal) {
	if mode == models.CurrencyGC {
		balance.GC = amount.IntPart()
	} else {
		balance.SC = amount
	}
}

func (s *LedgerService) createLedgerEntry(tx *sql.Tx, transactionID string, userID int, amount decimal.Decimal, currency, entryType string, balanceAfter decimal.Decimal) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (transaction_id, user_id, amount, currency, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		transactionID, userID, amount, currency, entryType, balanceAfter, time.Now())
	return err
}

func (s *LedgerService) insertBetRecord(tx *sql.Tx, userID int, currency string, stake, payout decimal.Decimal, meta *SettleMeta) error {
	outcomeJSON, err := json.Marshal(meta.Outcome)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO bet_records
		(transaction_id, user_id, game, currency, stake, outcome, hits, multiplier, payout, profit,
		 server_seed_hash, server_seed, client_seed, nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		meta.TransactionID, userID, meta.Game, currency, stake, outcomeJSON, meta.Hits,
		meta.Multiplier, payout, payout.Sub(stake),
		meta.ServerSeedHash, meta.ServerSeed, meta.ClientSeed, meta.Nonce, time.Now())
	return err
}

func (s *LedgerService) updateBalance(tx *sql.Tx, balance *models.Balance) error {
	result, err := tx.Exec(`
		UPDATE balances
		SET gc_balance = $1, sc_balance = $2, version = version + 1, updated_at = $3
		WHERE user_id = $4 AND version = $5`,
		balance.GC, balance.SC, time.Now(), balance.UserID, balance.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for balance of user %d", balance.UserID)
	}

	balance.Version++
	return nil
}
