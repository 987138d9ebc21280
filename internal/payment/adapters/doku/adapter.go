package doku

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/smallbiznis/gamestore/internal/config"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	"github.com/smallbiznis/gamestore/internal/payment/signature"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	"go.uber.org/zap"
)

type Factory struct {
	log *zap.Logger
}

func NewFactory(log *zap.Logger) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Factory{log: log.Named("adapter.doku")}
}

func (f *Factory) Provider() string {
	return paymentdomain.GatewayDoku
}

// NewAdapter reads secret_key, signature_mode and notification_path from cfg.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(readString(cfg.Config, "secret_key"))
	mode := strings.TrimSpace(readString(cfg.Config, "signature_mode"))
	strict := mode != config.SignatureModeLenient
	if secret == "" && strict {
		return nil, paymentdomain.ErrConfiguration
	}

	return &Adapter{
		secret:           secret,
		strict:           strict,
		notificationPath: strings.TrimSpace(readString(cfg.Config, "notification_path")),
		log:              f.log,
	}, nil
}

type Adapter struct {
	secret           string
	strict           bool
	notificationPath string
	log              *zap.Logger
}

// Verify authenticates a notification. In lenient mode a failed check is
// logged and the notification is accepted.
func (a *Adapter) Verify(ctx context.Context, target string, payload []byte, headers http.Header) error {
	if !signature.DigestMatches(headers, payload) {
		a.log.Warn("notification digest does not match body",
			zap.String("request_id", headers.Get(signature.HeaderRequestID)),
		)
	}

	if a.notificationPath != "" {
		target = a.notificationPath
	}
	err := signature.Verify(headers, target, payload, a.secret)
	if err == nil {
		return nil
	}
	if a.strict {
		return fmt.Errorf("%w: %w", paymentdomain.ErrInvalidSignature, err)
	}

	a.log.Warn("notification signature not verified, accepted in lenient mode",
		zap.String("request_id", headers.Get(signature.HeaderRequestID)),
		zap.String("reason", verifyReason(err)),
	)
	return nil
}

type notification struct {
	Order struct {
		InvoiceNumber string          `json:"invoice_number"`
		Amount        json.RawMessage `json:"amount"`
	} `json:"order"`
	Transaction struct {
		Status     string `json:"status"`
		Identifier string `json:"identifier"`
		Date       string `json:"date"`
	} `json:"transaction"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Notification, error) {
	var body notification
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	var asMap map[string]any
	if err := json.Unmarshal(payload, &asMap); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	invoice := strings.TrimSpace(body.Order.InvoiceNumber)
	if invoice == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	gatewayStatus := strings.TrimSpace(body.Transaction.Status)
	return &paymentdomain.Notification{
		Gateway:        paymentdomain.GatewayDoku,
		GatewayOrderID: invoice,
		GatewayStatus:  gatewayStatus,
		Status:         purchasedomain.ParseGatewayStatus(gatewayStatus),
		TransactionID:  strings.TrimSpace(body.Transaction.Identifier),
		ChannelID:      strings.TrimSpace(body.Channel.ID),
		Payload:        asMap,
		Raw:            payload,
	}, nil
}

func verifyReason(err error) string {
	switch {
	case errors.Is(err, signature.ErrMissingSecret):
		return "missing_secret"
	case errors.Is(err, signature.ErrMissingHeaders):
		return "missing_headers"
	default:
		return "mismatch"
	}
}

func readString(values map[string]any, key string) string {
	if values == nil {
		return ""
	}
	raw, ok := values[key]
	if !ok {
		return ""
	}
	value, _ := raw.(string)
	return value
}
