package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/luckrush/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const depositReferenceTTL = 15 * time.Minute

// Package is a purchasable GC bundle with its SC bonus.
type Package struct {
	ID       string          `json:"id"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
	GC       int64           `json:"gc"`
	SCBonus  decimal.Decimal `json:"scBonus"`
}

// Packages the cashier offers. GC is play money; the SC bonus is the
// redeemable sweepstakes grant attached to the purchase.
var depositPackages = map[string]Package{
	"starter": {ID: "starter", PriceUSD: decimal.NewFromInt(5), GC: 50_000, SCBonus: decimal.RequireFromString("5")},
	"value":   {ID: "value", PriceUSD: decimal.NewFromInt(20), GC: 250_000, SCBonus: decimal.RequireFromString("22")},
	"high":    {ID: "high", PriceUSD: decimal.NewFromInt(100), GC: 1_500_000, SCBonus: decimal.RequireFromString("115")},
}

// DepositService creates pending purchases and credits them when the payment
// processor confirms. The one-shot payment reference lives in redis under a
// TTL; the credit itself is a single ledger transaction.
type DepositService struct {
	db     *sql.DB
	redis  *redis.Client
	ledger *LedgerService
}

func NewDepositService(db *sql.DB, redisClient *redis.Client) *DepositService {
	return &DepositService{db: db, redis: redisClient, ledger: NewLedgerService(db)}
}

func GetPackage(id string) (Package, bool) {
	pkg, ok := depositPackages[id]
	return pkg, ok
}

func ListPackages() []Package {
	out := make([]Package, 0, len(depositPackages))
	for _, id := range []string{"starter", "value", "high"} {
		out = append(out, depositPackages[id])
	}
	return out
}

type depositReference struct {
	DepositID string `json:"depositId"`
	UserID    int    `json:"userId"`
	PackageID string `json:"packageId"`
}

// Create records a PENDING deposit and returns the payment reference plus a
// QR code image the client can show at checkout.
func (s *DepositService) Create(ctx context.Context, userID int, packageID string) (string, string, string, error) {
	pkg, ok := GetPackage(packageID)
	if !ok {
		return "", "", "", fmt.Errorf("unknown package %q", packageID)
	}

	depositID := fmt.Sprintf("DEP-%s", uuid.New().String())
	_, err := s.db.Exec(`
		INSERT INTO deposits (id, user_id, package_id, price_usd, gc_amount, sc_bonus, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		depositID, userID, pkg.ID, pkg.PriceUSD, pkg.GC, pkg.SCBonus, "PENDING", time.Now())
	if err != nil {
		return "", "", "", err
	}

	ref := depositReference{DepositID: depositID, UserID: userID, PackageID: pkg.ID}
	payload, err := json.Marshal(ref)
	if err != nil {
		return "", "", "", err
	}
	reference := base64.URLEncoding.EncodeToString(payload)

	if s.redis != nil {
		key := fmt.Sprintf("deposit:%s", reference)
		if err := s.redis.Set(ctx, key, payload, depositReferenceTTL).Err(); err != nil {
			return "", "", "", err
		}
	}

	qr, err := qrcode.New(reference, qrcode.Medium)
	if err != nil {
		return "", "", "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", "", err
	}

	return depositID, reference, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Confirm resolves the one-shot reference and credits the package. The
// reference is deleted after use, so a replayed webhook cannot double-credit.
func (s *DepositService) Confirm(ctx context.Context, reference string) (*models.Balance, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("deposit confirmation unavailable: redis not configured")
	}

	key := fmt.Sprintf("deposit:%s", reference)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired deposit reference")
	}
	if err != nil {
		return nil, err
	}

	var ref depositReference
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, err
	}

	pkg, ok := GetPackage(ref.PackageID)
	if !ok {
		return nil, fmt.Errorf("unknown package %q", ref.PackageID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE deposits SET status = 'CONFIRMED', confirmed_at = $1
		WHERE id = $2 AND status = 'PENDING'`, time.Now(), ref.DepositID)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("deposit %s is not pending", ref.DepositID)
	}

	balance, err := s.ledger.CreditDepositTx(tx, ref.UserID, pkg.GC, pkg.SCBonus, ref.DepositID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)
	return balance, nil
}
