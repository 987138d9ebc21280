// Package gateway holds helpers shared by the outbound payment gateway clients.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	"github.com/smallbiznis/gamestore/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 15 * time.Second

// Outcome maps a gateway call result onto a metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.GatewayOutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.GatewayOutcomeCanceled
	case errors.Is(err, paymentdomain.ErrGatewayAuth):
		return metrics.GatewayOutcomeAuthFailed
	case errors.Is(err, paymentdomain.ErrGatewayRejected):
		return metrics.GatewayOutcomeRejected
	default:
		return metrics.GatewayOutcomeUnavailable
	}
}

// Call wraps one outbound gateway operation with a client span and metrics.
type Call struct {
	gateway   string
	operation string
	started   time.Time
	span      trace.Span
	metrics   *metrics.GatewayMetrics
}

func Start(ctx context.Context, m *metrics.GatewayMetrics, gateway, operation string) (context.Context, *Call) {
	ctx, span := tracing.StartGatewaySpan(ctx, gateway, operation)
	return ctx, &Call{
		gateway:   gateway,
		operation: operation,
		started:   time.Now(),
		span:      span,
		metrics:   m,
	}
}

func (c *Call) End(err error) {
	c.metrics.ObserveRequest(c.gateway, c.operation, Outcome(err), time.Since(c.started))
	tracing.EndSpan(c.span, err)
}

// TransportError wraps a failed round trip. Context errors stay visible in the chain.
func TransportError(gatewayName, operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &paymentdomain.GatewayError{
			Gateway:   gatewayName,
			Operation: operation,
			Message:   err.Error(),
			Err:       errors.Join(paymentdomain.ErrGatewayUnavailable, err),
		}
	}
	return &paymentdomain.GatewayError{
		Gateway:   gatewayName,
		Operation: operation,
		Message:   "gateway request failed",
		Err:       paymentdomain.ErrGatewayUnavailable,
	}
}

// NewHTTPClient returns a client bounded by timeout, or DefaultTimeout when zero.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
