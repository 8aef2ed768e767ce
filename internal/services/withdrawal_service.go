package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/luckrush/backend/internal/config"
	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const payoutQueueKey = "withdrawals:payout_queue"

// WithdrawalService gates, records and tracks instant withdrawals. Eligibility
// is evaluated against the full policy on every request; approval debits the
// SC balance and enqueues the payout in one transaction plus one queue push.
type WithdrawalService struct {
	db        *sql.DB
	redis     *redis.Client
	policy    *config.WithdrawalPolicy
	risk      *RiskEngine
	ledger    *LedgerService
	stats     *StatsStore
	validator *ValidationHelper
}

func NewWithdrawalService(db *sql.DB, redisClient *redis.Client) *WithdrawalService {
	policy := config.LoadWithdrawalPolicy()
	return &WithdrawalService{
		db:        db,
		redis:     redisClient,
		policy:    policy,
		risk:      NewRiskEngine(db, config.DefaultRiskPolicy()),
		ledger:    NewLedgerService(db),
		stats:     NewStatsStore(db, redisClient),
		validator: NewValidationHelper(),
	}
}

// CheckEligibility runs every rule without short-circuiting so the caller
// sees all unmet requirements at once, not just the first.
func (ws *WithdrawalService) CheckEligibility(userID int, amount decimal.Decimal) (*models.EligibilityResult, error) {
	if !ws.policy.InstantEnabled {
		return nil, models.ErrServiceDisabled
	}

	score, err := ws.risk.Score(userID, amount)
	if err != nil {
		return nil, err
	}
	factors := score.Factors

	reasons := []string{}
	if ws.policy.RequireKYC && !factors.KYCVerified {
		reasons = append(reasons, "KYC verification required")
	}
	if factors.VIPLevel < ws.policy.MinVIPLevel {
		reasons = append(reasons, fmt.Sprintf("VIP level %d required", ws.policy.MinVIPLevel))
	}
	if factors.AccountAgeDays < ws.policy.MinAccountAgeDays {
		reasons = append(reasons, fmt.Sprintf("account must be at least %d days old", ws.policy.MinAccountAgeDays))
	}
	if factors.TotalWagered.LessThan(ws.policy.MinTotalWagered) {
		reasons = append(reasons, fmt.Sprintf("minimum lifetime wagering of %s not met", ws.policy.MinTotalWagered))
	}
	if factors.TotalDeposited.LessThan(ws.policy.MinTotalDeposited) {
		reasons = append(reasons, fmt.Sprintf("minimum lifetime deposits of %s not met", ws.policy.MinTotalDeposited))
	}
	if amount.GreaterThan(ws.policy.MaxPerTransaction) {
		reasons = append(reasons, fmt.Sprintf("amount exceeds per-transaction limit of %s", ws.policy.MaxPerTransaction))
	}

	used24h, err := ws.used24h(userID)
	if err != nil {
		return nil, err
	}
	if used24h.Add(amount).GreaterThan(ws.policy.MaxPer24h) {
		reasons = append(reasons, fmt.Sprintf("amount exceeds remaining 24-hour limit of %s",
			ws.policy.MaxPer24h.Sub(used24h)))
	}
	if score.Value > ws.policy.MaxRiskScore {
		reasons = append(reasons, fmt.Sprintf("risk score %d exceeds threshold %d", score.Value, ws.policy.MaxRiskScore))
	}
	if factors.SuspiciousPatterns {
		reasons = append(reasons, "account flagged for suspicious activity")
		for _, r := range factors.SuspiciousReasons {
			log.Printf("[WITHDRAWAL] User %d suspicious: %s", userID, r)
		}
	}

	// The instant ceiling reflects both caps so a client can size the next
	// request without another round trip.
	remaining24h := ws.policy.MaxPer24h.Sub(used24h)
	if remaining24h.IsNegative() {
		remaining24h = decimal.Zero
	}
	maxInstant := decimal.Min(ws.policy.MaxPerTransaction, remaining24h)

	return &models.EligibilityResult{
		IsEligible:       len(reasons) == 0,
		RiskScore:        score.Value,
		Reasons:          reasons,
		MaxInstantAmount: &maxInstant,
	}, nil
}

// Eligibility handles GET /withdrawals/eligibility
// @Summary Check instant withdrawal eligibility
// @Description Evaluates every policy rule for the given amount and reports all unmet requirements
// @Tags withdrawals
// @Produce json
// @Param amount query string true "Requested SC amount"
// @Success 200 {object} models.EligibilityResult
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /withdrawals/eligibility [get]
func (ws *WithdrawalService) Eligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil || !amount.IsPositive() {
		SendErrorKind(w, KindValidation, "amount must be a positive decimal", http.StatusBadRequest)
		return
	}

	result, err := ws.CheckEligibility(userID, amount)
	if err != nil {
		ws.sendEligibilityError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// WithdrawalRequest is the /withdrawals payload.
type WithdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination" validate:"required,min=4,max=128"`
}

// Request handles POST /withdrawals
// @Summary Request an instant withdrawal
// @Description Re-checks eligibility, debits the redeemable balance and queues the payout atomically
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param request body WithdrawalRequest true "Withdrawal details"
// @Success 201 {object} models.Withdrawal
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /withdrawals [post]
func (ws *WithdrawalService) Request(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	var req WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !req.Amount.IsPositive() {
		SendErrorKind(w, KindValidation, "amount must be positive", http.StatusBadRequest)
		return
	}

	// Eligibility is re-evaluated here, not trusted from an earlier call.
	eligibility, err := ws.CheckEligibility(userID, req.Amount)
	if err != nil {
		ws.sendEligibilityError(w, err)
		return
	}
	if !eligibility.IsEligible {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:   "Withdrawal not eligible",
			Kind:    KindIneligibleWithdrawal,
			Reasons: eligibility.Reasons,
		})
		return
	}

	withdrawal, err := ws.createWithdrawal(userID, req.Amount, req.Destination, eligibility.RiskScore)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			SendErrorKind(w, KindInsufficientBalance, "Insufficient redeemable balance", http.StatusBadRequest)
			return
		}
		log.Printf("[WITHDRAWAL] Failed to create withdrawal for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to create withdrawal", http.StatusInternalServerError, nil)
		return
	}

	ws.enqueuePayout(r, withdrawal)
	if _, err := ws.stats.Recompute(r.Context(), userID, eligibility.RiskScore, true); err != nil {
		log.Printf("[WITHDRAWAL] Stats recompute failed for user %d: %v", userID, err)
	}

	log.Printf("[WITHDRAWAL] User %d requested %s SC (id=%s, risk=%d)",
		userID, withdrawal.Amount, withdrawal.ID, withdrawal.RiskScore)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(withdrawal)
}

// Get handles GET /withdrawals/{id}
// @Summary Fetch one withdrawal
// @Tags withdrawals
// @Produce json
// @Param id path string true "Withdrawal ID"
// @Success 200 {object} models.Withdrawal
// @Failure 404 {object} ErrorResponse
// @Router /withdrawals/{id} [get]
func (ws *WithdrawalService) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	withdrawal := &models.Withdrawal{}
	err := ws.db.QueryRow(`
		SELECT id, user_id, amount, destination, status, risk_score, created_at, updated_at
		FROM withdrawals
		WHERE id = $1 AND user_id = $2`, chi.URLParam(r, "id"), userID).
		Scan(&withdrawal.ID, &withdrawal.UserID, &withdrawal.Amount, &withdrawal.Destination,
			&withdrawal.Status, &withdrawal.RiskScore, &withdrawal.CreatedAt, &withdrawal.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch withdrawal", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

// Stats handles GET /withdrawals/stats
// @Summary Current withdrawal aggregates
// @Tags withdrawals
// @Produce json
// @Success 200 {object} models.WithdrawalStats
// @Failure 404 {object} ErrorResponse
// @Router /withdrawals/stats [get]
func (ws *WithdrawalService) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	stats, err := ws.stats.Get(r.Context(), userID)
	if errors.Is(err, models.ErrUserNotFound) {
		// No history yet; serve an empty aggregate instead of a 404.
		stats = &models.WithdrawalStats{UserID: userID, UpdatedAt: time.Now()}
	} else if err != nil {
		SendErrorResponse(w, "Failed to fetch stats", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// UpdateStatus handles POST /withdrawals/{id}/status, the payment processor
// webhook. Transitions: PENDING to SENT, SENT to CONFIRMED or FAILED. A
// FAILED withdrawal refunds the debit in the same transaction that flips
// the status.
// @Summary Payment processor status webhook
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param id path string true "Withdrawal ID"
// @Success 200 {object} models.Withdrawal
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /withdrawals/{id}/status [post]
func (ws *WithdrawalService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !ws.authorizedWebhook(r) {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Status string `json:"status" validate:"required,oneof=SENT CONFIRMED FAILED"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	withdrawal, err := ws.transition(chi.URLParam(r, "id"), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
		case errors.Is(err, errBadTransition):
			SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
		default:
			log.Printf("[WITHDRAWAL] Status update failed: %v", err)
			SendErrorResponse(w, "Failed to update withdrawal", http.StatusInternalServerError, nil)
		}
		return
	}

	if _, err := ws.stats.Recompute(r.Context(), withdrawal.UserID, withdrawal.RiskScore, true); err != nil {
		log.Printf("[WITHDRAWAL] Stats recompute failed for user %d: %v", withdrawal.UserID, err)
	}

	log.Printf("[WITHDRAWAL] Withdrawal %s moved to %s", withdrawal.ID, withdrawal.Status)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

var errBadTransition = errors.New("invalid status transition")

func (ws *WithdrawalService) transition(id, newStatus string) (*models.Withdrawal, error) {
	tx, err := ws.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	withdrawal := &models.Withdrawal{}
	err = tx.QueryRow(`
		SELECT id, user_id, amount, destination, status, risk_score, created_at, updated_at
		FROM withdrawals
		WHERE id = $1
		FOR UPDATE`, id).
		Scan(&withdrawal.ID, &withdrawal.UserID, &withdrawal.Amount, &withdrawal.Destination,
			&withdrawal.Status, &withdrawal.RiskScore, &withdrawal.CreatedAt, &withdrawal.UpdatedAt)
	if err != nil {
		return nil, err
	}

	valid := (withdrawal.Status == models.WithdrawalPending && newStatus == models.WithdrawalSent) ||
		(withdrawal.Status == models.WithdrawalSent &&
			(newStatus == models.WithdrawalConfirmed || newStatus == models.WithdrawalFailed)) ||
		(withdrawal.Status == models.WithdrawalPending && newStatus == models.WithdrawalFailed)
	if !valid {
		return nil, fmt.Errorf("%w: %s to %s", errBadTransition, withdrawal.Status, newStatus)
	}

	if newStatus == models.WithdrawalFailed {
		if _, err := ws.ledger.RefundWithdrawalTx(tx, withdrawal.UserID, withdrawal.Amount, withdrawal.ID); err != nil {
			return nil, err
		}
	}

	withdrawal.Status = newStatus
	withdrawal.UpdatedAt = time.Now()
	_, err = tx.Exec(`UPDATE withdrawals SET status = $1, updated_at = $2 WHERE id = $3`,
		withdrawal.Status, withdrawal.UpdatedAt, withdrawal.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return withdrawal, nil
}

func (ws *WithdrawalService) createWithdrawal(userID int, amount decimal.Decimal, destination string, riskScore int) (*models.Withdrawal, error) {
	tx, err := ws.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	withdrawal := &models.Withdrawal{
		ID:          fmt.Sprintf("WD-%s", uuid.New().String()),
		UserID:      userID,
		Amount:      amount,
		Destination: destination,
		Status:      models.WithdrawalPending,
		RiskScore:   riskScore,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if _, err := ws.ledger.DebitWithdrawalTx(tx, userID, amount, withdrawal.ID); err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO withdrawals (id, user_id, amount, destination, status, risk_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		withdrawal.ID, withdrawal.UserID, withdrawal.Amount, withdrawal.Destination,
		withdrawal.Status, withdrawal.RiskScore, withdrawal.CreatedAt, withdrawal.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return withdrawal, nil
}

// enqueuePayout hands the approved withdrawal to the payout worker. A queue
// failure is logged, not fatal: the row is durable and a sweep can requeue.
func (ws *WithdrawalService) enqueuePayout(r *http.Request, withdrawal *models.Withdrawal) {
	if ws.redis == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"withdrawalId": withdrawal.ID,
		"userId":       withdrawal.UserID,
		"amount":       withdrawal.Amount,
		"destination":  withdrawal.Destination,
	})
	if err != nil {
		return
	}
	if err := ws.redis.RPush(r.Context(), payoutQueueKey, payload).Err(); err != nil {
		log.Printf("[WITHDRAWAL] Failed to enqueue payout %s: %v", withdrawal.ID, err)
	}
}

func (ws *WithdrawalService) used24h(userID int) (decimal.Decimal, error) {
	var used decimal.Decimal
	err := ws.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE user_id = $1 AND created_at > $2 AND status != $3`,
		userID, time.Now().Add(-24*time.Hour), models.WithdrawalFailed).
		Scan(&used)
	if err != nil {
		return decimal.Zero, fmt.Errorf("withdrawal: 24h usage: %w", err)
	}
	return used, nil
}

func (ws *WithdrawalService) sendEligibilityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrServiceDisabled):
		SendErrorKind(w, KindServiceDisabled, "Instant withdrawals are currently disabled", http.StatusServiceUnavailable)
	case errors.Is(err, models.ErrUserNotFound):
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
	default:
		log.Printf("[WITHDRAWAL] Eligibility check failed: %v", err)
		SendErrorResponse(w, "Failed to evaluate eligibility", http.StatusInternalServerError, nil)
	}
}

func (ws *WithdrawalService) authorizedWebhook(r *http.Request) bool {
	secret := viper.GetString("webhook.secret")
	return secret != "" && r.Header.Get("X-Webhook-Secret") == secret
}
