package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDisabledGuardAllowsEverything(t *testing.T) {
	guard := NewPurchaseGuard(nil, nil)
	if guard.Enabled() {
		t.Fatalf("expected disabled guard")
	}

	res, err := guard.AllowCheckout(context.Background(), "user-1")
	if err != nil || !res.Allowed {
		t.Fatalf("expected allowed, got %+v (%v)", res, err)
	}

	ran := false
	if err := guard.WithPurchaseLock(context.Background(), "user-1", "game-1", func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if !ran {
		t.Fatalf("expected fn to run")
	}
}

func TestNilLockerRunsFn(t *testing.T) {
	var locker *Locker
	want := errors.New("inner")
	if err := locker.WithLock(context.Background(), "k", time.Second, time.Second, func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected inner error, got %v", err)
	}
}

func TestNilTokenBucketRefuses(t *testing.T) {
	var bucket *TokenBucket
	res, err := bucket.Allow(context.Background(), "k", 1, 1)
	if !errors.Is(err, ErrLimiterNotConfigured) || res.Allowed {
		t.Fatalf("expected unconfigured bucket to refuse, got %v", err)
	}
}

func TestCastToFloatParsesScriptReply(t *testing.T) {
	if got := castToFloat("0.75"); got != 0.75 {
		t.Fatalf("expected 0.75, got %v", got)
	}
	if got := castToFloat(int64(2)); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	if got := castToFloat("nan?"); got != 0 {
		t.Fatalf("expected 0 for garbage, got %v", got)
	}
}

func TestBucketResultFractionalRetry(t *testing.T) {
	res := bucketResult(false, 0.75, 1_700_000_000_000, 0.5, 5)
	if res.RetryAfter != 500*time.Millisecond {
		t.Fatalf("expected 500ms retry, got %s", res.RetryAfter)
	}
}

func TestBucketResult(t *testing.T) {
	res := bucketResult(false, 0, 1_700_000_000_000, 0.5, 5)
	if res.Allowed {
		t.Fatalf("expected refusal")
	}
	if res.RetryAfter != 2*time.Second {
		t.Fatalf("expected 2s retry, got %s", res.RetryAfter)
	}
	if res.Limit != 5 {
		t.Fatalf("expected limit 5, got %d", res.Limit)
	}

	res = bucketResult(true, 3, 1_700_000_000_000, 0.5, 5)
	if !res.Allowed || res.Remaining != 3 || res.RetryAfter != 0 {
		t.Fatalf("unexpected allowed result %+v", res)
	}
}

func TestDefaultBucketTTL(t *testing.T) {
	if got := defaultBucketTTL(0.2, 5); got != 50*time.Second {
		t.Fatalf("expected 50s, got %s", got)
	}
	if got := defaultBucketTTL(100, 1); got != time.Second {
		t.Fatalf("expected floor of 1s, got %s", got)
	}
	if got := defaultBucketTTL(0, 0); got != time.Second {
		t.Fatalf("expected 1s for invalid input, got %s", got)
	}
}
