package context

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := UserIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty user id, got %q", got)
	}
}

func TestUserIDRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "U1")
	if got := UserIDFromContext(ctx); got != "U1" {
		t.Fatalf("expected U1, got %q", got)
	}
}
