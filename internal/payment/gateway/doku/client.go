package doku

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/gamestore/internal/clock"
	"github.com/smallbiznis/gamestore/internal/config"
	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	"github.com/smallbiznis/gamestore/internal/payment/gateway"
	"github.com/smallbiznis/gamestore/internal/payment/signature"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const paymentPath = "/checkout/v1/payment"

// expired_date is reported in Western Indonesia Time.
var wib = time.FixedZone("WIB", 7*60*60)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Checkout   *config.CheckoutConfigHolder `optional:"true"`
	Metrics    *metrics.GatewayMetrics      `optional:"true"`
	HTTPClient *http.Client                 `optional:"true"`
}

type Client struct {
	cfg     config.DokuConfig
	log     *zap.Logger
	clock   clock.Clock
	http    *http.Client
	metrics *metrics.GatewayMetrics
	newID   func() string
}

func NewClient(p Params) *Client {
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = gateway.NewHTTPClient(p.Checkout.Get().GatewayTimeout)
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		cfg:     p.Cfg.Doku,
		log:     p.Log.Named("gateway.doku"),
		clock:   clk,
		http:    httpClient,
		metrics: p.Metrics,
		newID:   uuid.NewString,
	}
}

type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type LineItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type PaymentRequest struct {
	InvoiceNumber string
	Amount        int64
	CallbackURL   string
	DueMinutes    int
	Customer      Customer
	LineItems     []LineItem
}

type PaymentResponse struct {
	URL           string
	InvoiceNumber string
	ExpiredDate   string
	ExpiresAt     *time.Time
	RequestID     string
	Raw           map[string]any
}

type paymentEnvelope struct {
	Message  []string `json:"message"`
	Response struct {
		Order struct {
			InvoiceNumber string `json:"invoice_number"`
		} `json:"order"`
		Payment struct {
			URL         string `json:"url"`
			ExpiredDate string `json:"expired_date"`
		} `json:"payment"`
	} `json:"response"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePayment opens a hosted payment page for one invoice.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if !c.cfg.Configured() {
		return nil, paymentdomain.ErrConfiguration
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if strings.TrimSpace(req.InvoiceNumber) == "" {
		return nil, paymentdomain.ErrInvalidOrderID
	}

	dueMinutes := req.DueMinutes
	if dueMinutes <= 0 {
		dueMinutes = c.cfg.PaymentDueMins
	}
	order := map[string]any{
		"amount":              req.Amount,
		"invoice_number":      req.InvoiceNumber,
		"currency":            "IDR",
		"callback_url":        req.CallbackURL,
		"callback_url_result": req.CallbackURL,
	}
	if len(req.LineItems) > 0 {
		order["line_items"] = req.LineItems
	}
	payload := map[string]any{
		"order": order,
		"payment": map[string]any{
			"payment_due_date": dueMinutes,
		},
		"customer": req.Customer,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	ctx, call := gateway.Start(ctx, c.metrics, paymentdomain.GatewayDoku, "create_payment")
	resp, err := c.send(ctx, body)
	call.End(err)
	if err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, &paymentdomain.GatewayError{
			Gateway:   paymentdomain.GatewayDoku,
			Operation: "create_payment",
			Message:   "payment url missing from response",
			Err:       paymentdomain.ErrGatewayUnavailable,
		}
	}
	if resp.InvoiceNumber == "" {
		resp.InvoiceNumber = req.InvoiceNumber
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, body []byte) (*PaymentResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+paymentPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	requestID := c.newID()
	signature.Apply(httpReq.Header, c.cfg.ClientID, requestID, signature.FormatTimestamp(c.clock.Now()), paymentPath, body, c.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, gateway.TransportError(paymentdomain.GatewayDoku, "create_payment", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var envelope paymentEnvelope
	decodeErr := json.Unmarshal(raw, &envelope)

	if resp.StatusCode >= http.StatusBadRequest {
		message := strings.TrimSpace(envelope.Error.Message)
		if message == "" && len(envelope.Message) > 0 {
			message = strings.Join(envelope.Message, "; ")
		}
		c.log.Warn("gateway request failed",
			zap.String("operation", "create_payment"),
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", requestID),
			zap.String("code", envelope.Error.Code),
		)
		return nil, &paymentdomain.GatewayError{
			Gateway:    paymentdomain.GatewayDoku,
			Operation:  "create_payment",
			StatusCode: resp.StatusCode,
			Code:       envelope.Error.Code,
			Message:    message,
			Err:        paymentdomain.ClassifyStatus(resp.StatusCode),
		}
	}
	if decodeErr != nil {
		return nil, &paymentdomain.GatewayError{
			Gateway:    paymentdomain.GatewayDoku,
			Operation:  "create_payment",
			StatusCode: resp.StatusCode,
			Message:    "unreadable response",
			Err:        paymentdomain.ErrGatewayUnavailable,
		}
	}

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)

	out := &PaymentResponse{
		URL:           strings.TrimSpace(envelope.Response.Payment.URL),
		InvoiceNumber: strings.TrimSpace(envelope.Response.Order.InvoiceNumber),
		ExpiredDate:   strings.TrimSpace(envelope.Response.Payment.ExpiredDate),
		RequestID:     requestID,
		Raw:           rawMap,
	}
	if ts, err := time.ParseInLocation("20060102150405", out.ExpiredDate, wib); err == nil {
		utc := ts.UTC()
		out.ExpiresAt = &utc
	}
	return out, nil
}
