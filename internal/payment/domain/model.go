package domain

import (
	"context"
	"net/http"

	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
)

const (
	GatewayPayPal = "paypal"
	GatewayDoku   = "doku"
)

// Notification is a gateway status push normalized by an adapter.
type Notification struct {
	Gateway        string
	GatewayOrderID string
	GatewayStatus  string
	Status         purchasedomain.PaymentStatus
	TransactionID  string
	ChannelID      string
	EventType      string
	Payload        map[string]any
	Raw            []byte
}

type AdapterConfig struct {
	Config map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// PaymentAdapter authenticates and parses inbound notifications of one gateway.
type PaymentAdapter interface {
	Verify(ctx context.Context, target string, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Notification, error)
}
