package tracing

import (
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("gateway", "doku"),
		attribute.String("Signature", "HMACSHA256=abc"),
		attribute.String("client_secret", "shh"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "gateway" {
		t.Fatalf("expected gateway to be retained, got %s", attrs[0].Key)
	}
}

func TestSafeErrorTruncates(t *testing.T) {
	long := strings.Repeat("x", 400)
	err := SafeError(errors.New(long))
	if len(err.Error()) != 256 {
		t.Fatalf("expected truncated message, got %d chars", len(err.Error()))
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
