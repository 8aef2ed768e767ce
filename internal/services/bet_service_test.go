package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/luckrush/backend/internal/fairness"
	"github.com/luckrush/backend/internal/games"
	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newTestBetService(db *sql.DB) *BetService {
	return &BetService{
		db:          db,
		commitments: NewCommitmentService(db, nil),
		ledger:      NewLedgerService(db),
		validator:   NewValidationHelper(),
		houseEdge:   decimal.RequireFromString("0.04"),
	}
}

func playRequest(t *testing.T, game string, body any, userID string) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	payload, err := json.Marshal(body)
	assert.NoError(t, err)

	r := httptest.NewRequest("POST", fmt.Sprintf("/games/%s/play", game), bytes.NewBuffer(payload))
	if userID != "" {
		r = r.WithContext(context.WithValue(r.Context(), "userID", userID))
	}

	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("game", game)
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))

	return httptest.NewRecorder(), r
}

func TestBetService_Play_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestBetService(db)

	t.Run("unknown game", func(t *testing.T) {
		w, r := playRequest(t, "roulette", map[string]any{"stake": "1"}, "1")
		service.Play(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non-positive stake", func(t *testing.T) {
		w, r := playRequest(t, "dice", map[string]any{"stake": "0", "target": 5000}, "1")
		service.Play(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("duplicate keno picks", func(t *testing.T) {
		w, r := playRequest(t, "keno", map[string]any{
			"stake": "1", "picks": []int{4, 4, 9}, "risk": "classic",
		}, "1")
		service.Play(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("keno pick off the board", func(t *testing.T) {
		w, r := playRequest(t, "keno", map[string]any{
			"stake": "1", "picks": []int{1, 41}, "risk": "classic",
		}, "1")
		service.Play(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("dice target out of range", func(t *testing.T) {
		w, r := playRequest(t, "dice", map[string]any{"stake": "1", "target": 9900}, "1")
		service.Play(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		w, r := playRequest(t, "dice", map[string]any{"stake": "1", "target": 5000, "cheat": true}, "1")
		service.Play(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBetService_Play_Dice(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestBetService(db)

	seed := bytes.Repeat([]byte{0x42}, 32)
	clientSeed := "client-seed"
	nonce := int64(3)
	target := 5000

	rolls, err := fairness.Derive(seed, clientSeed, nonce, 1, games.DiceSpace, false)
	assert.NoError(t, err)
	roll := rolls[0]
	win := roll < target

	stake := decimal.RequireFromString("10")
	var expectedPayout decimal.Decimal
	if win {
		mult := games.DiceMultiplier(target).
			Mul(decimal.RequireFromString("0.96")).Round(4)
		expectedPayout = stake.Mul(mult).RoundDown(2)
	} else {
		expectedPayout = decimal.Zero
	}

	commitmentColumns := []string{"user_id", "server_seed", "server_seed_hash", "client_seed", "nonce", "created_at"}
	balanceColumns := []string{"user_id", "gc_balance", "sc_balance", "version", "updated_at"}

	mock.ExpectBegin()

	mock.ExpectQuery("SELECT user_id, server_seed, server_seed_hash, client_seed, nonce, created_at").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(commitmentColumns).
			AddRow(1, seed, fairness.HashServerSeed(seed), clientSeed, nonce, time.Now()))

	mock.ExpectQuery("SELECT currency_mode FROM users").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"currency_mode"}).AddRow("SC"))

	mock.ExpectQuery("SELECT user_id, gc_balance, sc_balance, version, updated_at FROM balances").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(balanceColumns).AddRow(1, 0, "100", 1, time.Now()))

	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if win {
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(2, 1))
	}
	mock.ExpectExec("INSERT INTO bet_records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE balances").
		WillReturnResult(sqlmock.NewResult(1, 1))

	// next commitment issued inside the same transaction
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(nonce\\), 0\\) FROM bet_records").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(nonce))
	mock.ExpectExec("INSERT INTO seed_commitments").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectCommit()

	w, r := playRequest(t, "dice", map[string]any{"stake": "10", "target": target}, "1")
	service.Play(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var result models.RoundResult
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "dice", result.Game)
	assert.Equal(t, []int{roll}, result.Outcome)
	assert.Equal(t, nonce, result.Nonce)
	assert.Equal(t, nonce+1, result.NextNonce)
	assert.True(t, result.Payout.Equal(expectedPayout))
	assert.Equal(t, hex.EncodeToString(seed), result.ServerSeed)
	assert.NotNil(t, result.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBetService_Play_NoCommitment(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestBetService(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, server_seed, server_seed_hash, client_seed, nonce, created_at").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectRollback()

	w, r := playRequest(t, "dice", map[string]any{"stake": "10", "target": 5000}, "1")
	service.Play(w, r)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, KindNoActiveCommitment, resp.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBetService_Play_NonceMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestBetService(db)
	seed := bytes.Repeat([]byte{0x01}, 32)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, server_seed, server_seed_hash, client_seed, nonce, created_at").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(
			[]string{"user_id", "server_seed", "server_seed_hash", "client_seed", "nonce", "created_at"}).
			AddRow(1, seed, "hash", "cs", 6, time.Now()))
	mock.ExpectRollback()

	w, r := playRequest(t, "dice", map[string]any{"stake": "10", "target": 5000, "nonce": 5}, "1")
	service.Play(w, r)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, KindNonceMismatch, resp.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBetService_Play_GuestWithoutSession(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestBetService(db)

	w, r := playRequest(t, "dice", map[string]any{"stake": "10", "target": 5000}, "")
	service.Play(w, r)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBetService_VerifyRound(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestBetService(db)

	seed := bytes.Repeat([]byte{0x07}, 32)
	clientSeed := "verify-me"
	nonce := int64(12)

	rolls, err := fairness.Derive(seed, clientSeed, nonce, 1, games.DiceSpace, false)
	assert.NoError(t, err)

	t.Run("genuine proof verifies", func(t *testing.T) {
		w, r := playRequest(t, "dice", map[string]any{
			"serverSeed":     hex.EncodeToString(seed),
			"serverSeedHash": fairness.HashServerSeed(seed),
			"clientSeed":     clientSeed,
			"nonce":          nonce,
		}, "")
		service.VerifyRound(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			ValidHash         bool  `json:"validHash"`
			RecomputedOutcome []int `json:"recomputedOutcome"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.ValidHash)
		assert.Equal(t, rolls, resp.RecomputedOutcome)
	})

	t.Run("tampered hash fails verification", func(t *testing.T) {
		other := bytes.Repeat([]byte{0x08}, 32)
		w, r := playRequest(t, "dice", map[string]any{
			"serverSeed":     hex.EncodeToString(seed),
			"serverSeedHash": fairness.HashServerSeed(other),
			"clientSeed":     clientSeed,
			"nonce":          nonce,
		}, "")
		service.VerifyRound(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			ValidHash bool `json:"validHash"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.ValidHash)
	})
}
