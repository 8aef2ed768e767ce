package services

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/luckrush/backend/internal/fairness"
	"github.com/luckrush/backend/internal/models"
)

// guestCommitmentTTL bounds how long an anonymous session keeps a pending
// commitment in redis.
const guestCommitmentTTL = time.Hour

// CommitmentService manages the one outstanding seed commitment per player.
// Registered users get a row in the same transactional store as their
// balance, so correctness survives restarts and multiple instances; guest
// sessions, which never touch money, live in redis under a TTL.
type CommitmentService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewCommitmentService(db *sql.DB, redisClient *redis.Client) *CommitmentService {
	return &CommitmentService{db: db, redis: redisClient}
}

// Issue creates the user's next commitment, overwriting any unconsumed one.
// The nonce is always last-settled + 1, so re-issuing before settlement keeps
// the nonce the player was already shown.
func (s *CommitmentService) Issue(userID int, clientSeed string) (*models.Commitment, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	commitment, err := s.IssueTx(tx, userID, clientSeed)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return commitment, nil
}

// IssueTx issues a commitment inside the caller's transaction. Settlement
// uses this to replace the consumed commitment atomically with the round.
func (s *CommitmentService) IssueTx(tx *sql.Tx, userID int, clientSeed string) (*models.Commitment, error) {
	seed, err := fairness.GenerateServerSeed()
	if err != nil {
		return nil, err
	}
	if clientSeed == "" {
		clientSeed = fairness.GenerateClientSeed()
	}

	var lastSettled int64
	err = tx.QueryRow(`SELECT COALESCE(MAX(nonce), 0) FROM bet_records WHERE user_id = $1`, userID).Scan(&lastSettled)
	if err != nil {
		return nil, err
	}

	commitment := &models.Commitment{
		UserID:         userID,
		ServerSeed:     seed,
		ServerSeedHash: fairness.HashServerSeed(seed),
		ClientSeed:     clientSeed,
		Nonce:          lastSettled + 1,
		CreatedAt:      time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO seed_commitments (user_id, server_seed, server_seed_hash, client_seed, nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET server_seed = EXCLUDED.server_seed,
		    server_seed_hash = EXCLUDED.server_seed_hash,
		    client_seed = EXCLUDED.client_seed,
		    nonce = EXCLUDED.nonce,
		    created_at = EXCLUDED.created_at`,
		commitment.UserID, commitment.ServerSeed, commitment.ServerSeedHash,
		commitment.ClientSeed, commitment.Nonce, commitment.CreatedAt)
	if err != nil {
		return nil, err
	}
	return commitment, nil
}

// ConsumeTx locks and returns the user's outstanding commitment. The row lock
// serializes concurrent settlements for the same user: the loser of the race
// re-reads after the winner replaced the commitment and fails the nonce check.
func (s *CommitmentService) ConsumeTx(tx *sql.Tx, userID int, wantNonce *int64) (*models.Commitment, error) {
	commitment := &models.Commitment{}
	err := tx.QueryRow(`
		SELECT user_id, server_seed, server_seed_hash, client_seed, nonce, created_at
		FROM seed_commitments
		WHERE user_id = $1
		FOR UPDATE`, userID).
		Scan(&commitment.UserID, &commitment.ServerSeed, &commitment.ServerSeedHash,
			&commitment.ClientSeed, &commitment.Nonce, &commitment.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNoActiveCommitment
	}
	if err != nil {
		return nil, err
	}

	if wantNonce != nil && *wantNonce != commitment.Nonce {
		return nil, fmt.Errorf("%w: want %d, have %d", models.ErrNonceMismatch, *wantNonce, commitment.Nonce)
	}
	return commitment, nil
}

type guestCommitment struct {
	ServerSeed     string `json:"serverSeed"`
	ServerSeedHash string `json:"serverSeedHash"`
	ClientSeed     string `json:"clientSeed"`
	Nonce          int64  `json:"nonce"`
}

// IssueGuest stores a commitment for an anonymous session under a TTL.
func (s *CommitmentService) IssueGuest(ctx context.Context, sessionID, clientSeed string, nonce int64) (*models.Commitment, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("guest play unavailable: redis not configured")
	}

	seed, err := fairness.GenerateServerSeed()
	if err != nil {
		return nil, err
	}
	if clientSeed == "" {
		clientSeed = fairness.GenerateClientSeed()
	}

	stored := guestCommitment{
		ServerSeed:     hex.EncodeToString(seed),
		ServerSeedHash: fairness.HashServerSeed(seed),
		ClientSeed:     clientSeed,
		Nonce:          nonce,
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("commitment:guest:%s", sessionID)
	if err := s.redis.Set(ctx, key, data, guestCommitmentTTL).Err(); err != nil {
		return nil, err
	}

	return &models.Commitment{
		ServerSeed:     seed,
		ServerSeedHash: stored.ServerSeedHash,
		ClientSeed:     clientSeed,
		Nonce:          nonce,
	}, nil
}

// GetGuest returns the session's outstanding commitment.
func (s *CommitmentService) GetGuest(ctx context.Context, sessionID string, wantNonce *int64) (*models.Commitment, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("guest play unavailable: redis not configured")
	}

	key := fmt.Sprintf("commitment:guest:%s", sessionID)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, models.ErrNoActiveCommitment
	}
	if err != nil {
		return nil, err
	}

	var stored guestCommitment
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}

	seed, err := hex.DecodeString(stored.ServerSeed)
	if err != nil {
		return nil, err
	}

	if wantNonce != nil && *wantNonce != stored.Nonce {
		return nil, fmt.Errorf("%w: want %d, have %d", models.ErrNonceMismatch, *wantNonce, stored.Nonce)
	}

	return &models.Commitment{
		ServerSeed:     seed,
		ServerSeedHash: stored.ServerSeedHash,
		ClientSeed:     stored.ClientSeed,
		Nonce:          stored.Nonce,
	}, nil
}
