// Package testutil opens in-memory databases carrying the purchase schema.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE games (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		title TEXT NOT NULL,
		price_usd_cents BIGINT NOT NULL,
		price_idr BIGINT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_games_slug ON games(slug)`,
	`CREATE TABLE purchases (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		game_id TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		currency TEXT NOT NULL,
		payment_status TEXT NOT NULL CHECK (payment_status IN ('pending', 'completed', 'failed')),
		payment_gateway TEXT NOT NULL,
		gateway_order_id TEXT NOT NULL,
		gateway_transaction_id TEXT,
		payment_details TEXT NOT NULL DEFAULT '{}',
		purchase_date DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_purchases_gateway_order ON purchases(payment_gateway, gateway_order_id)`,
	`CREATE UNIQUE INDEX ux_purchases_completed_owner ON purchases(user_id, game_id) WHERE payment_status = 'completed'`,
	`CREATE INDEX ix_purchases_user_status ON purchases(user_id, payment_status)`,
}

// SetupDB returns an isolated in-memory database with games and purchases tables.
func SetupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// one connection keeps the shared in-memory database alive and serializes writes
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// SeedGame inserts an active game priced in both gateway currencies.
func SeedGame(t *testing.T, db *gorm.DB, id, slug string, usdCents, idr int64) {
	t.Helper()

	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO games (id, slug, title, price_usd_cents, price_idr, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, slug, slug, usdCents, idr, true, now, now,
	).Error; err != nil {
		t.Fatalf("seed game: %v", err)
	}
}

// AssertCount fails the test when query does not return expected.
func AssertCount(t *testing.T, db *gorm.DB, query string, expected int64, args ...any) {
	t.Helper()

	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d, got %d", expected, count)
	}
}
