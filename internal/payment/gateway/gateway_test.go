package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
)

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, metrics.GatewayOutcomeOK},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), metrics.GatewayOutcomeCanceled},
		{&paymentdomain.GatewayError{Err: paymentdomain.ErrGatewayAuth}, metrics.GatewayOutcomeAuthFailed},
		{&paymentdomain.GatewayError{Err: paymentdomain.ErrGatewayRejected}, metrics.GatewayOutcomeRejected},
		{errors.New("boom"), metrics.GatewayOutcomeUnavailable},
	}
	for _, tc := range cases {
		if got := Outcome(tc.err); got != tc.want {
			t.Fatalf("Outcome(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestTransportErrorKeepsContextCause(t *testing.T) {
	err := TransportError("paypal", "capture", context.DeadlineExceeded)
	if !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain")
	}

	err = TransportError("paypal", "capture", errors.New("dial tcp: refused"))
	if !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable")
	}
}
