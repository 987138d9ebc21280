package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/gamestore/internal/clock"
	"github.com/smallbiznis/gamestore/internal/config"
	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	"github.com/smallbiznis/gamestore/internal/payment/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// StatusCompleted is the capture status that means funds were taken.
const StatusCompleted = "COMPLETED"

// tokens are refreshed this long before they expire
const tokenExpirySkew = 60 * time.Second

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
	cfg     config.PayPalConfig
	log     *zap.Logger
	clock   clock.Clock
	http    *http.Client
	metrics *metrics.GatewayMetrics

	mu        sync.Mutex
	token     string
	expiresAt time.Time
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
		cfg:     p.Cfg.PayPal,
		log:     p.Log.Named("gateway.paypal"),
		clock:   clk,
		http:    httpClient,
		metrics: p.Metrics,
	}
}

type OrderRequest struct {
	ReferenceID string
	Amount      int64
	Currency    string
	ReturnURL   string
	CancelURL   string
	Description string
}

type Order struct {
	ID         string
	Status     string
	ApproveURL string
}

type CaptureResult struct {
	OrderID     string
	Status      string
	CaptureID   string
	ReferenceID string
	// Amount is in minor units of Currency; zero when the capture carried no amount.
	Amount   int64
	Currency string
	Raw      map[string]any
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type errorResponse struct {
	Name             string `json:"name"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// AccessToken returns a cached client-credentials token, fetching a new one
// when the cached token is missing or about to expire.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if !c.cfg.Configured() {
		return "", paymentdomain.ErrConfiguration
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.clock.Now().Before(c.expiresAt) {
		return c.token, nil
	}

	ctx, call := gateway.Start(ctx, c.metrics, paymentdomain.GatewayPayPal, "token")
	token, expiresIn, err := c.fetchToken(ctx)
	call.End(err)
	if err != nil {
		return "", err
	}

	c.token = token
	c.expiresAt = c.clock.Now().Add(time.Duration(expiresIn)*time.Second - tokenExpirySkew)
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, int64, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, gateway.TransportError(paymentdomain.GatewayPayPal, "token", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		gwErr := c.decodeError("token", resp.StatusCode, body)
		if resp.StatusCode < http.StatusInternalServerError {
			// any client error on the token endpoint means the credentials are unusable
			gwErr.Err = paymentdomain.ErrGatewayAuth
		}
		return "", 0, gwErr
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil || strings.TrimSpace(out.AccessToken) == "" {
		return "", 0, &paymentdomain.GatewayError{
			Gateway:    paymentdomain.GatewayPayPal,
			Operation:  "token",
			StatusCode: resp.StatusCode,
			Message:    "access token missing from response",
			Err:        paymentdomain.ErrGatewayAuth,
		}
	}
	return out.AccessToken, out.ExpiresIn, nil
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.ReferenceID,
			"description":  req.Description,
			"amount": map[string]any{
				"currency_code": currency,
				"value":         FormatAmount(req.Amount),
			},
		}},
		"application_context": map[string]any{
			"return_url":          req.ReturnURL,
			"cancel_url":          req.CancelURL,
			"shipping_preference": "NO_SHIPPING",
			"user_action":         "PAY_NOW",
		},
	}

	ctx, call := gateway.Start(ctx, c.metrics, paymentdomain.GatewayPayPal, "create_order")
	var out orderResponse
	err = c.doJSON(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", token, req.ReferenceID, payload, &out)
	call.End(err)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, &paymentdomain.GatewayError{
			Gateway:   paymentdomain.GatewayPayPal,
			Operation: "create_order",
			Message:   "order id missing from response",
			Err:       paymentdomain.ErrGatewayUnavailable,
		}
	}

	order := &Order{ID: out.ID, Status: out.Status}
	for _, link := range out.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			order.ApproveURL = link.Href
			break
		}
	}
	return order, nil
}

func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidOrderID
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ctx, call := gateway.Start(ctx, c.metrics, paymentdomain.GatewayPayPal, "capture")
	var raw map[string]any
	err = c.doJSON(ctx, "capture", http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", token, "capture-"+orderID, map[string]any{}, &raw)
	call.End(err)
	if err != nil {
		return nil, err
	}

	encoded, _ := json.Marshal(raw)
	var out captureResponse
	_ = json.Unmarshal(encoded, &out)

	result := &CaptureResult{
		OrderID: out.ID,
		Status:  strings.ToUpper(strings.TrimSpace(out.Status)),
		Raw:     raw,
	}
	for _, unit := range out.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			if capture.ID == "" {
				continue
			}
			result.CaptureID = capture.ID
			result.ReferenceID = strings.TrimSpace(unit.ReferenceID)
			result.Currency = strings.ToUpper(strings.TrimSpace(capture.Amount.CurrencyCode))
			if capture.Amount.Value != "" {
				amount, err := ParseAmount(capture.Amount.Value)
				if err != nil {
					return nil, fmt.Errorf("%w: capture amount %q", paymentdomain.ErrInvalidAmount, capture.Amount.Value)
				}
				result.Amount = amount
			}
			break
		}
		if result.CaptureID != "" {
			break
		}
	}
	return result, nil
}

// VerifyWebhookSignature asks the gateway to authenticate a webhook delivery.
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error {
	if strings.TrimSpace(c.cfg.WebhookID) == "" {
		return paymentdomain.ErrConfiguration
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}

	ctx, call := gateway.Start(ctx, c.metrics, paymentdomain.GatewayPayPal, "verify_webhook")
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	err = c.doJSON(ctx, "verify_webhook", http.MethodPost, "/v1/notifications/verify-webhook-signature", token, "", payload, &out)
	call.End(err)
	if err != nil {
		return err
	}
	if !strings.EqualFold(out.VerificationStatus, "SUCCESS") {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (c *Client) doJSON(
	ctx context.Context,
	operation string,
	method string,
	path string,
	token string,
	requestID string,
	payload any,
	out any,
) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gateway.TransportError(paymentdomain.GatewayPayPal, operation, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		if resp.StatusCode == http.StatusUnauthorized {
			c.resetToken()
		}
		return c.decodeError(operation, resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &paymentdomain.GatewayError{
			Gateway:    paymentdomain.GatewayPayPal,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    "unreadable response",
			Err:        paymentdomain.ErrGatewayUnavailable,
		}
	}
	return nil
}

func (c *Client) decodeError(operation string, status int, body []byte) *paymentdomain.GatewayError {
	var decoded errorResponse
	_ = json.Unmarshal(body, &decoded)

	code := strings.TrimSpace(decoded.Name)
	if code == "" {
		code = strings.TrimSpace(decoded.Error)
	}
	message := strings.TrimSpace(decoded.Message)
	if message == "" {
		message = strings.TrimSpace(decoded.ErrorDescription)
	}

	c.log.Warn("gateway request failed",
		zap.String("operation", operation),
		zap.Int("status", status),
		zap.String("code", code),
	)
	return &paymentdomain.GatewayError{
		Gateway:    paymentdomain.GatewayPayPal,
		Operation:  operation,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Err:        paymentdomain.ClassifyStatus(status),
	}
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// FormatAmount renders minor units as a two-decimal string.
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseAmount reads a decimal value such as "19.99" into minor units.
func ParseAmount(value string) (int64, error) {
	value = strings.TrimSpace(value)
	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" || strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	if hasFrac && (frac == "" || len(frac) > 2) {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || strings.ContainsAny(frac, "+-") {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	return units*100 + cents, nil
}
