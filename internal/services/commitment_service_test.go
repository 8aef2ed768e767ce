package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/luckrush/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCommitmentService_IssueTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCommitmentService(db, nil)

	t.Run("nonce continues from settled history", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(nonce\\), 0\\) FROM bet_records").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(4))

		mock.ExpectExec("INSERT INTO seed_commitments").
			WillReturnResult(sqlmock.NewResult(1, 1))

		commitment, err := service.IssueTx(tx, 1, "my-seed")
		assert.NoError(t, err)
		assert.Equal(t, int64(5), commitment.Nonce)
		assert.Equal(t, "my-seed", commitment.ClientSeed)
		assert.Len(t, commitment.ServerSeed, 32)
		assert.Len(t, commitment.ServerSeedHash, 64)
	})

	t.Run("first round starts at nonce 1 with generated client seed", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(nonce\\), 0\\) FROM bet_records").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

		mock.ExpectExec("INSERT INTO seed_commitments").
			WillReturnResult(sqlmock.NewResult(1, 1))

		commitment, err := service.IssueTx(tx, 1, "")
		assert.NoError(t, err)
		assert.Equal(t, int64(1), commitment.Nonce)
		assert.NotEmpty(t, commitment.ClientSeed)
	})
}

func TestCommitmentService_ConsumeTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCommitmentService(db, nil)

	seed := make([]byte, 32)
	columns := []string{"user_id", "server_seed", "server_seed_hash", "client_seed", "nonce", "created_at"}

	t.Run("returns the locked commitment", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT user_id, server_seed, server_seed_hash, client_seed, nonce, created_at").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(1, seed, "hash", "cs", 3, time.Now()))

		commitment, err := service.ConsumeTx(tx, 1, nil)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), commitment.Nonce)
	})

	t.Run("missing row means no active commitment", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT user_id, server_seed, server_seed_hash, client_seed, nonce, created_at").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := service.ConsumeTx(tx, 1, nil)
		assert.True(t, errors.Is(err, models.ErrNoActiveCommitment))
	})

	t.Run("stale nonce is rejected", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT user_id, server_seed, server_seed_hash, client_seed, nonce, created_at").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(1, seed, "hash", "cs", 4, time.Now()))

		want := int64(3)
		_, err := service.ConsumeTx(tx, 1, &want)
		assert.True(t, errors.Is(err, models.ErrNonceMismatch))
	})
}

func TestCommitmentService_GetGuest(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	service := NewCommitmentService(nil, redisClient)
	ctx := context.Background()

	stored, _ := json.Marshal(guestCommitment{
		ServerSeed:     "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		ServerSeedHash: "hash",
		ClientSeed:     "cs",
		Nonce:          2,
	})

	t.Run("returns the stored session commitment", func(t *testing.T) {
		redisMock.ExpectGet("commitment:guest:sess-1").SetVal(string(stored))

		commitment, err := service.GetGuest(ctx, "sess-1", nil)
		assert.NoError(t, err)
		assert.Equal(t, int64(2), commitment.Nonce)
		assert.Len(t, commitment.ServerSeed, 32)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired session means no active commitment", func(t *testing.T) {
		redisMock.ExpectGet("commitment:guest:sess-2").RedisNil()

		_, err := service.GetGuest(ctx, "sess-2", nil)
		assert.True(t, errors.Is(err, models.ErrNoActiveCommitment))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("stale guest nonce is rejected", func(t *testing.T) {
		redisMock.ExpectGet("commitment:guest:sess-1").SetVal(string(stored))

		want := int64(1)
		_, err := service.GetGuest(ctx, "sess-1", &want)
		assert.True(t, errors.Is(err, models.ErrNonceMismatch))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}
