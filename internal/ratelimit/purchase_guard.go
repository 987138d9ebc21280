package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gamestore/internal/config"
)

const (
	keyCheckoutUser = "checkout:user:%s"
	keyPurchaseLock = "purchase:%s:%s"

	purchaseLockTTL  = 30 * time.Second
	purchaseLockWait = 5 * time.Second
)

// PurchaseGuard throttles checkout attempts per user and serializes writers
// completing the same (user, game). A disabled guard allows everything.
type PurchaseGuard struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker
	holder *config.CheckoutConfigHolder
}

func NewPurchaseGuard(client *redis.Client, holder *config.CheckoutConfigHolder) *PurchaseGuard {
	if client == nil {
		return &PurchaseGuard{}
	}
	return &PurchaseGuard{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		holder:  holder,
	}
}

func (g *PurchaseGuard) Enabled() bool {
	return g != nil && g.enabled
}

func (g *PurchaseGuard) AllowCheckout(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !g.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	limit := g.holder.Get().RateLimit
	return g.bucket.Allow(ctx, fmt.Sprintf(keyCheckoutUser, strings.TrimSpace(userID)), limit.Rate, limit.Burst)
}

// WithPurchaseLock runs fn under the (user, game) lock shared by capture and
// webhook reconciliation.
func (g *PurchaseGuard) WithPurchaseLock(ctx context.Context, userID, gameID string, fn func() error) error {
	if !g.Enabled() {
		return fn()
	}
	key := fmt.Sprintf(keyPurchaseLock, strings.TrimSpace(userID), strings.TrimSpace(gameID))
	return g.locker.WithLock(ctx, key, purchaseLockTTL, purchaseLockWait, fn)
}
