package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
)

// Verifier asks the gateway whether a webhook delivery is authentic.
type Verifier interface {
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error
}

type Factory struct {
	verifier Verifier
}

func NewFactory(verifier Verifier) *Factory {
	return &Factory{verifier: verifier}
}

func (f *Factory) Provider() string {
	return paymentdomain.GatewayPayPal
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	if f.verifier == nil {
		return nil, paymentdomain.ErrConfiguration
	}
	return &Adapter{verifier: f.verifier}, nil
}

type Adapter struct {
	verifier Verifier
}

func (a *Adapter) Verify(ctx context.Context, target string, payload []byte, headers http.Header) error {
	if strings.TrimSpace(headers.Get("Paypal-Transmission-Sig")) == "" {
		return paymentdomain.ErrInvalidSignature
	}
	return a.verifier.VerifyWebhookSignature(ctx, headers, payload)
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Notification, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var status purchasedomain.PaymentStatus
	switch strings.TrimSpace(event.EventType) {
	case "PAYMENT.CAPTURE.COMPLETED":
		status = purchasedomain.StatusCompleted
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		status = purchasedomain.StatusFailed
	case "PAYMENT.CAPTURE.PENDING":
		status = purchasedomain.StatusPending
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	orderID := strings.TrimSpace(event.Resource.SupplementaryData.RelatedIDs.OrderID)
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var asMap map[string]any
	_ = json.Unmarshal(payload, &asMap)

	return &paymentdomain.Notification{
		Gateway:        paymentdomain.GatewayPayPal,
		GatewayOrderID: orderID,
		GatewayStatus:  strings.TrimSpace(event.Resource.Status),
		Status:         status,
		TransactionID:  strings.TrimSpace(event.Resource.ID),
		EventType:      event.EventType,
		Payload:        asMap,
		Raw:            payload,
	}, nil
}
