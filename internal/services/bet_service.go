package services

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/luckrush/backend/internal/fairness"
	"github.com/luckrush/backend/internal/games"
	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// BetService orchestrates a full round: validate, consume the commitment,
// derive the outcome, price it through the pay table and house edge, settle
// the ledger, and issue the next commitment in the same transaction.
type BetService struct {
	db          *sql.DB
	commitments *CommitmentService
	ledger      *LedgerService
	validator   *ValidationHelper
	houseEdge   decimal.Decimal
}

func NewBetService(db *sql.DB, redisClient *redis.Client) *BetService {
	viper.SetDefault("games.house_edge", 0.04)
	edge := decimal.NewFromFloat(viper.GetFloat64("games.house_edge"))
	if edge.IsNegative() || edge.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		log.Fatalf("[BET] invalid house edge %s", edge)
	}
	return &BetService{
		db:          db,
		commitments: NewCommitmentService(db, redisClient),
		ledger:      NewLedgerService(db),
		validator:   NewValidationHelper(),
		houseEdge:   edge,
	}
}

// PlayRequest is the /play payload. Nonce is optional; when present it must
// match the outstanding commitment, which stops replays against a stale one.
type PlayRequest struct {
	Stake      decimal.Decimal `json:"stake"`
	ClientSeed string          `json:"clientSeed,omitempty" validate:"omitempty,max=64"`
	Nonce      *int64          `json:"nonce,omitempty"`
	Picks      []int           `json:"picks,omitempty"`  // keno selections
	Risk       string          `json:"risk,omitempty"`   // keno pay-table tier
	Target     int             `json:"target,omitempty"` // dice roll-under target
}

// NextCommitment handles POST /games/{game}/next
// @Summary Request the next round's commitment
// @Description Issues a fresh server-seed commitment for the caller's next round
// @Tags games
// @Accept json
// @Produce json
// @Param game path string true "Game kind"
// @Success 200 {object} models.Commitment
// @Failure 400 {object} ErrorResponse
// @Router /games/{game}/next [post]
func (bs *BetService) NextCommitment(w http.ResponseWriter, r *http.Request) {
	if _, ok := games.ParseKind(chi.URLParam(r, "game")); !ok {
		SendErrorKind(w, KindValidation, "Unknown game", http.StatusBadRequest)
		return
	}

	var req struct {
		ClientSeed string `json:"clientSeed,omitempty" validate:"omitempty,max=64"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
		if err := bs.validator.ValidateStruct(&req); err != nil {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
	}

	if userID, ok := userIDFromContext(r); ok {
		commitment, err := bs.commitments.Issue(userID, req.ClientSeed)
		if err != nil {
			log.Printf("[BET] Failed to issue commitment for user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to issue commitment", http.StatusInternalServerError, nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(commitment)
		return
	}

	// Anonymous session: keyed by X-Session-ID, issued on first contact.
	sessionID := r.Header.Get("X-Session-ID")
	nonce := int64(1)
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if existing, err := bs.commitments.GetGuest(r.Context(), sessionID, nil); err == nil {
		nonce = existing.Nonce
	}

	commitment, err := bs.commitments.IssueGuest(r.Context(), sessionID, req.ClientSeed, nonce)
	if err != nil {
		log.Printf("[BET] Failed to issue guest commitment: %v", err)
		SendErrorResponse(w, "Failed to issue commitment", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"serverSeedHash": commitment.ServerSeedHash,
		"clientSeed":     commitment.ClientSeed,
		"nonce":          commitment.Nonce,
		"sessionId":      sessionID,
	})
}

// Play handles POST /games/{game}/play
// @Summary Play one round
// @Description Settles a wager against the outstanding commitment and returns the full proof bundle
// @Tags games
// @Accept json
// @Produce json
// @Param game path string true "Game kind"
// @Param request body PlayRequest true "Round parameters"
// @Success 200 {object} models.RoundResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /games/{game}/play [post]
func (bs *BetService) Play(w http.ResponseWriter, r *http.Request) {
	kind, ok := games.ParseKind(chi.URLParam(r, "game"))
	if !ok {
		SendErrorKind(w, KindValidation, "Unknown game", http.StatusBadRequest)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req PlayRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if err := bs.validateRound(kind, &req); err != nil {
		SendErrorKind(w, KindValidation, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		result *models.RoundResult
		err    error
	)
	if userID, ok := userIDFromContext(r); ok {
		result, err = bs.playRound(userID, kind, &req)
	} else {
		result, err = bs.playAnonymousRound(r, kind, &req)
	}
	if err != nil {
		bs.sendPlayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// playRound runs the authenticated settlement path: one transaction covers
// commitment consumption, ledger settlement and next-commitment issuance.
func (bs *BetService) playRound(userID int, kind games.Kind, req *PlayRequest) (*models.RoundResult, error) {
	tx, err := bs.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	commitment, err := bs.commitments.ConsumeTx(tx, userID, req.Nonce)
	if err != nil {
		return nil, err
	}

	clientSeed := commitment.ClientSeed
	if req.ClientSeed != "" {
		clientSeed = req.ClientSeed
	}

	outcome, hits, rawMult, err := bs.evaluate(kind, req, commitment.ServerSeed, clientSeed, commitment.Nonce)
	if err != nil {
		return nil, err
	}

	multiplier := bs.shrink(rawMult)
	payout := req.Stake.Mul(multiplier).RoundDown(2)

	meta := &SettleMeta{
		TransactionID:  fmt.Sprintf("BET-%s", uuid.New().String()),
		Game:           string(kind),
		Outcome:        outcome,
		Hits:           hits,
		Multiplier:     multiplier,
		ServerSeed:     hex.EncodeToString(commitment.ServerSeed),
		ServerSeedHash: commitment.ServerSeedHash,
		ClientSeed:     clientSeed,
		Nonce:          commitment.Nonce,
	}

	balance, err := bs.ledger.SettleTx(tx, userID, req.Stake, payout, meta)
	if err != nil {
		return nil, err
	}

	// Issue the next commitment in the same transaction so the player can
	// keep playing without another round trip and the old seed can never be
	// settled twice.
	next, err := bs.commitments.IssueTx(tx, userID, clientSeed)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[BET] Settled %s round for user %d: nonce=%d stake=%s payout=%s",
		kind, userID, meta.Nonce, req.Stake, payout)

	return &models.RoundResult{
		Game:           string(kind),
		Stake:          req.Stake,
		Outcome:        outcome,
		Hits:           hits,
		Multiplier:     multiplier,
		Payout:         payout,
		Profit:         payout.Sub(req.Stake),
		ServerSeed:     meta.ServerSeed,
		ServerSeedHash: meta.ServerSeedHash,
		ClientSeed:     clientSeed,
		Nonce:          meta.Nonce,
		NextSeedHash:   next.ServerSeedHash,
		NextNonce:      next.Nonce,
		Balance:        balance,
	}, nil
}

// playAnonymousRound generates and proves an outcome for a session-only
// player. No balance is touched and nothing durable is written.
func (bs *BetService) playAnonymousRound(r *http.Request, kind games.Kind, req *PlayRequest) (*models.RoundResult, error) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		return nil, models.ErrNoActiveCommitment
	}

	commitment, err := bs.commitments.GetGuest(r.Context(), sessionID, req.Nonce)
	if err != nil {
		return nil, err
	}

	clientSeed := commitment.ClientSeed
	if req.ClientSeed != "" {
		clientSeed = req.ClientSeed
	}

	outcome, hits, rawMult, err := bs.evaluate(kind, req, commitment.ServerSeed, clientSeed, commitment.Nonce)
	if err != nil {
		return nil, err
	}

	multiplier := bs.shrink(rawMult)
	payout := req.Stake.Mul(multiplier).RoundDown(2)

	next, err := bs.commitments.IssueGuest(r.Context(), sessionID, clientSeed, commitment.Nonce+1)
	if err != nil {
		return nil, err
	}

	return &models.RoundResult{
		Game:           string(kind),
		Stake:          req.Stake,
		Outcome:        outcome,
		Hits:           hits,
		Multiplier:     multiplier,
		Payout:         payout,
		Profit:         payout.Sub(req.Stake),
		ServerSeed:     hex.EncodeToString(commitment.ServerSeed),
		ServerSeedHash: commitment.ServerSeedHash,
		ClientSeed:     clientSeed,
		Nonce:          commitment.Nonce,
		NextSeedHash:   next.ServerSeedHash,
		NextNonce:      next.Nonce,
	}, nil
}

// VerifyRound handles POST /games/{game}/verify
// @Summary Verify a settled round
// @Description Recomputes the commitment hash and outcome sequence from a revealed seed; pure and unauthenticated
// @Tags games
// @Accept json
// @Produce json
// @Param game path string true "Game kind"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Router /games/{game}/verify [post]
func (bs *BetService) VerifyRound(w http.ResponseWriter, r *http.Request) {
	kind, ok := games.ParseKind(chi.URLParam(r, "game"))
	if !ok {
		SendErrorKind(w, KindValidation, "Unknown game", http.StatusBadRequest)
		return
	}

	var req struct {
		ServerSeed     string `json:"serverSeed" validate:"required,hexadecimal,len=64"`
		ServerSeedHash string `json:"serverSeedHash" validate:"required,hexadecimal,len=64"`
		ClientSeed     string `json:"clientSeed" validate:"required,max=64"`
		Nonce          int64  `json:"nonce" validate:"required,gt=0"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	seed, err := hex.DecodeString(req.ServerSeed)
	if err != nil {
		SendErrorResponse(w, "Invalid server seed", http.StatusBadRequest, nil)
		return
	}

	var outcome []int
	switch kind {
	case games.Keno:
		draws, derr := fairness.Derive(seed, req.ClientSeed, req.Nonce, games.KenoDraws, games.KenoNumbers, true)
		if derr != nil {
			SendErrorResponse(w, "Failed to derive outcome", http.StatusInternalServerError, nil)
			return
		}
		outcome = boardNumbers(draws)
	case games.Dice:
		rolls, derr := fairness.Derive(seed, req.ClientSeed, req.Nonce, 1, games.DiceSpace, false)
		if derr != nil {
			SendErrorResponse(w, "Failed to derive outcome", http.StatusInternalServerError, nil)
			return
		}
		outcome = rolls
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"validHash":         fairness.VerifyServerSeed(seed, req.ServerSeedHash),
		"recomputedOutcome": outcome,
	})
}

// ListBets handles GET /bets
// @Summary Recent bet proofs
// @Description Returns the caller's most recent settled rounds
// @Tags games
// @Produce json
// @Param limit query int false "Number of records (default 20, max 100)"
// @Success 200 {array} models.BetRecord
// @Failure 401 {object} ErrorResponse
// @Router /bets [get]
func (bs *BetService) ListBets(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	records, err := bs.fetchRecentBets(userID, limit)
	if err != nil {
		log.Printf("[BET] Failed to fetch bets for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch bets", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// GetBalance handles GET /balance
// @Summary Current balance
// @Tags account
// @Produce json
// @Success 200 {object} models.Balance
// @Failure 401 {object} ErrorResponse
// @Router /balance [get]
func (bs *BetService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := bs.ledger.GetBalance(userID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			SendErrorResponse(w, "Balance not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// validateRound checks stake and game-specific parameter bounds before any
// commitment or balance is touched.
func (bs *BetService) validateRound(kind games.Kind, req *PlayRequest) error {
	if !req.Stake.IsPositive() {
		return fmt.Errorf("stake must be positive")
	}

	switch kind {
	case games.Keno:
		if len(req.Picks) < games.KenoMinPicks || len(req.Picks) > games.KenoMaxPicks {
			return fmt.Errorf("keno requires between %d and %d picks", games.KenoMinPicks, games.KenoMaxPicks)
		}
		seen := make(map[int]bool, len(req.Picks))
		for _, p := range req.Picks {
			if p < 1 || p > games.KenoNumbers {
				return fmt.Errorf("pick %d outside board range 1-%d", p, games.KenoNumbers)
			}
			if seen[p] {
				return fmt.Errorf("duplicate pick %d", p)
			}
			seen[p] = true
		}
		if _, ok := games.ParseRiskTier(req.Risk); !ok {
			return fmt.Errorf("unknown risk tier %q", req.Risk)
		}
	case games.Dice:
		if req.Target < games.DiceMinTarget || req.Target > games.DiceMaxTarget {
			return fmt.Errorf("dice target must be between %d and %d", games.DiceMinTarget, games.DiceMaxTarget)
		}
	}
	return nil
}

// evaluate derives the outcome and looks up the raw multiplier.
func (bs *BetService) evaluate(kind games.Kind, req *PlayRequest, serverSeed []byte, clientSeed string, nonce int64) ([]int, int, decimal.Decimal, error) {
	switch kind {
	case games.Keno:
		draws, err := fairness.Derive(serverSeed, clientSeed, nonce, games.KenoDraws, games.KenoNumbers, true)
		if err != nil {
			return nil, 0, decimal.Zero, err
		}
		outcome := boardNumbers(draws)

		drawn := make(map[int]bool, len(outcome))
		for _, n := range outcome {
			drawn[n] = true
		}
		hits := 0
		for _, p := range req.Picks {
			if drawn[p] {
				hits++
			}
		}

		tier, _ := games.ParseRiskTier(req.Risk)
		mult, err := games.KenoMultiplier(tier, len(req.Picks), hits)
		if err != nil {
			return nil, 0, decimal.Zero, err
		}
		return outcome, hits, mult, nil

	case games.Dice:
		rolls, err := fairness.Derive(serverSeed, clientSeed, nonce, 1, games.DiceSpace, false)
		if err != nil {
			return nil, 0, decimal.Zero, err
		}
		roll := rolls[0]
		if roll < req.Target {
			return rolls, 1, games.DiceMultiplier(req.Target), nil
		}
		return rolls, 0, decimal.Zero, nil
	}

	return nil, 0, decimal.Zero, fmt.Errorf("unsupported game %q", kind)
}

// shrink applies the platform's house edge to a raw pay-table multiplier.
func (bs *BetService) shrink(raw decimal.Decimal) decimal.Decimal {
	if raw.IsZero() {
		return raw
	}
	return raw.Mul(decimal.NewFromInt(1).Sub(bs.houseEdge)).Round(4)
}

func (bs *BetService) sendPlayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNoActiveCommitment):
		SendErrorKind(w, KindNoActiveCommitment, "No active commitment; request /next first", http.StatusConflict)
	case errors.Is(err, models.ErrNonceMismatch):
		SendErrorKind(w, KindNonceMismatch, "Nonce does not match the outstanding commitment", http.StatusConflict)
	case errors.Is(err, models.ErrInsufficientBalance):
		SendErrorKind(w, KindInsufficientBalance, "Insufficient balance", http.StatusBadRequest)
	case errors.Is(err, models.ErrInvalidStake):
		SendErrorKind(w, KindValidation, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("[BET] Settlement failed: %v", err)
		SendErrorResponse(w, "Failed to settle round", http.StatusInternalServerError, nil)
	}
}

func (bs *BetService) fetchRecentBets(userID, limit int) ([]models.BetRecord, error) {
	rows, err := bs.db.Query(`
		SELECT id, transaction_id, game, currency, stake, outcome, hits, multiplier, payout, profit,
		       server_seed_hash, server_seed, client_seed, nonce, created_at
		FROM bet_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.BetRecord{}
	for rows.Next() {
		rec := models.BetRecord{UserID: userID}
		var outcomeJSON []byte
		err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.Game, &rec.Currency, &rec.Stake,
			&outcomeJSON, &rec.Hits, &rec.Multiplier, &rec.Payout, &rec.Profit,
			&rec.ServerSeedHash, &rec.ServerSeed, &rec.ClientSeed, &rec.Nonce, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(outcomeJSON, &rec.Outcome); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// boardNumbers shifts zero-based draws onto the 1-based keno board.
func boardNumbers(draws []int) []int {
	numbers := make([]int, len(draws))
	for i, d := range draws {
		numbers[i] = d + 1
	}
	return numbers
}
