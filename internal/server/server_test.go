package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	catalogrepo "github.com/smallbiznis/gamestore/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/gamestore/internal/catalog/service"
	"github.com/smallbiznis/gamestore/internal/clock"
	"github.com/smallbiznis/gamestore/internal/config"
	"github.com/smallbiznis/gamestore/internal/payment/adapters"
	dokuadapter "github.com/smallbiznis/gamestore/internal/payment/adapters/doku"
	"github.com/smallbiznis/gamestore/internal/payment/capture"
	"github.com/smallbiznis/gamestore/internal/payment/checkout"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	"github.com/smallbiznis/gamestore/internal/payment/gateway/doku"
	"github.com/smallbiznis/gamestore/internal/payment/gateway/paypal"
	"github.com/smallbiznis/gamestore/internal/payment/signature"
	"github.com/smallbiznis/gamestore/internal/payment/status"
	"github.com/smallbiznis/gamestore/internal/payment/webhook"
	"github.com/smallbiznis/gamestore/internal/providers/pdf"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/gamestore/internal/purchase/repository"
	"github.com/smallbiznis/gamestore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	testJWTSecret  = "jwt-secret"
	testDokuSecret = "SK-test"
	webhookPath    = "/api/payments/webhooks/doku"
)

type fakePayPal struct {
	captures int
}

func (f *fakePayPal) CreateOrder(ctx context.Context, req paypal.OrderRequest) (*paypal.Order, error) {
	return &paypal.Order{ID: "ORDER-1", Status: "CREATED", ApproveURL: "https://paypal.test/approve"}, nil
}

func (f *fakePayPal) CaptureOrder(ctx context.Context, orderID string) (*paypal.CaptureResult, error) {
	f.captures++
	return &paypal.CaptureResult{
		OrderID:     orderID,
		Status:      paypal.StatusCompleted,
		CaptureID:   "CAP-" + orderID,
		ReferenceID: "G1",
		Amount:      2999,
		Currency:    "USD",
		Raw:         map[string]any{"id": orderID, "status": "COMPLETED"},
	}, nil
}

type fakeDoku struct{}

func (fakeDoku) CreatePayment(ctx context.Context, req doku.PaymentRequest) (*doku.PaymentResponse, error) {
	return &doku.PaymentResponse{
		URL:           "https://doku.test/pay/" + req.InvoiceNumber,
		InvoiceNumber: req.InvoiceNumber,
		ExpiredDate:   "20260101080000",
		RequestID:     "req-1",
	}, nil
}

type testServer struct {
	db     *gorm.DB
	engine *gin.Engine
	paypal *fakePayPal
	node   *snowflake.Node
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupDB(t)
	testutil.SeedGame(t, db, "G1", "hollow-sky", 2999, 150000)
	testutil.SeedGame(t, db, "G2", "iron-tide", 1999, 99000)

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	cfg := config.Config{
		AppName:       "gamestore",
		AuthJWTSecret: testJWTSecret,
		Doku: config.DokuConfig{
			ClientID:         "BRN-0001",
			SecretKey:        testDokuSecret,
			NotificationPath: webhookPath,
			SignatureMode:    config.SignatureModeStrict,
		},
		Checkout: config.CheckoutEnvConfig{ReturnURL: "https://store.test/return"},
	}
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := purchaserepo.Provide()
	catalog := catalogservice.New(catalogservice.Params{DB: db, Log: log, Repo: catalogrepo.Provide()})
	pp := &fakePayPal{}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin: engine,
		Cfg: cfg,
		DB:  db,
		Log: log,
		CheckoutSvc: checkout.NewService(checkout.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, Repo: repo, Catalog: catalog,
			PayPal: pp, Doku: fakeDoku{},
		}),
		CaptureSvc: capture.NewService(capture.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: repo, Catalog: catalog, PayPal: pp,
		}),
		WebhookSvc: webhook.NewService(webhook.Params{
			DB: db, Log: log, Cfg: cfg, Clock: clk, Repo: repo,
			Adapters: adapters.NewRegistry(dokuadapter.NewFactory(log)),
		}),
		StatusSvc:  status.NewService(status.Params{DB: db, Log: log, Repo: repo}),
		CatalogSvc: catalog,
		Purchases:  repo,
		Receipts:   pdf.New(),
		PollCfg: config.NewStaticCheckoutConfigHolder(config.CheckoutConfig{
			StatusPoll: config.StatusPollConfig{Interval: time.Millisecond, MaxAttempts: 2},
		}),
	})

	return &testServer{db: db, engine: engine, paypal: pp, node: node}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, userID string, body []byte, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header[k] = v
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seedPurchase(t *testing.T, userID, gameID, gateway, orderID string, st purchasedomain.PaymentStatus, at time.Time) {
	t.Helper()
	err := purchaserepo.Provide().Insert(context.Background(), s.db, &purchasedomain.PurchaseRecord{
		ID:             s.node.Generate(),
		UserID:         userID,
		GameID:         gameID,
		Amount:         150000,
		Currency:       "IDR",
		PaymentStatus:  st,
		PaymentGateway: gateway,
		GatewayOrderID: orderID,
		PaymentDetails: datatypes.JSONMap{},
		PurchaseDate:   at,
		UpdatedAt:      at,
	})
	require.NoError(t, err)
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Type
}

func signedDoku(body []byte) http.Header {
	headers := http.Header{}
	signature.Apply(headers, "BRN-0001", "req-9", "2026-01-01T00:00:00Z", webhookPath, body, testDokuSecret)
	return headers
}

func TestAPIRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout", "", []byte(`{}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	headers := http.Header{"Authorization": {"Bearer not-a-jwt"}}
	rec = s.do(t, http.MethodGet, "/api/library", "", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHostedCheckoutThenNotificationCompletesPurchase(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout", "U1", []byte(`{"gateway":"doku","game_id":"G1","amount":150000,"buyer":{"name":"Ana","email":"ana@example.com"}}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data checkout.InitiateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	invoice := created.Data.OrderID
	require.NotEmpty(t, invoice)
	assert.Equal(t, "https://doku.test/pay/"+invoice, created.Data.PaymentURL)

	rec = s.do(t, http.MethodGet, "/api/purchases/"+invoice+"/status", "U1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)

	body := []byte(`{"order":{"invoice_number":"` + invoice + `"},"transaction":{"status":"SUCCESS","identifier":"T2"},"channel":{"id":"VIRTUAL_ACCOUNT_BCA"}}`)
	rec = s.do(t, http.MethodPost, webhookPath, "", body, signedDoku(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/purchases/"+invoice+"/status?wait=true", "U1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)

	// redelivery is acknowledged without change
	rec = s.do(t, http.MethodPost, webhookPath, "", body, signedDoku(body))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/checkout", "U1", []byte(`{"gateway":"doku","game_id":"G1","amount":150000}`), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_owned", errorType(t, rec))
}

func TestWebhookResponses(t *testing.T) {
	s := newTestServer(t)
	s.seedPurchase(t, "U1", "G1", "doku", "INV-1", purchasedomain.StatusPending, time.Now().UTC())
	body := []byte(`{"order":{"invoice_number":"INV-1"},"transaction":{"status":"SUCCESS","identifier":"T2"}}`)

	rec := s.do(t, http.MethodPost, webhookPath, "", body, signedDoku([]byte(`{"tampered":true}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_signature", errorType(t, rec))

	rec = s.do(t, http.MethodPost, "/api/payments/webhooks/unknown", "", body, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	malformed := []byte(`{"order":`)
	rec = s.do(t, http.MethodPost, webhookPath, "", malformed, signedDoku(malformed))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unknown := []byte(`{"order":{"invoice_number":"INV-404"},"transaction":{"status":"SUCCESS","identifier":"T9"}}`)
	rec = s.do(t, http.MethodPost, webhookPath, "", unknown, signedDoku(unknown))
	assert.Equal(t, http.StatusOK, rec.Code)

	testutil.AssertCount(t, s.db, "SELECT COUNT(1) FROM purchases WHERE payment_status = 'pending'", 1)
}

func TestCaptureAndSecondCaptureConflict(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout/paypal/capture", "U1", []byte(`{"order_id":"ORDER-1","game_id":"G1","amount":2999}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"payment_status":"completed"`)
	assert.Contains(t, rec.Body.String(), `"gateway_transaction_id":"CAP-ORDER-1"`)

	rec = s.do(t, http.MethodPost, "/api/checkout/paypal/capture", "U1", []byte(`{"order_id":"ORDER-2","game_id":"G1","amount":2999}`), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, s.paypal.captures)

	rec = s.do(t, http.MethodPost, "/api/checkout/paypal/capture", "U1", []byte(`{"order_id":"ORDER-3","game_id":"G2","amount":1}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLibraryPaginates(t *testing.T) {
	s := newTestServer(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seedPurchase(t, "U1", "G1", "doku", "INV-1", purchasedomain.StatusCompleted, base)
	s.seedPurchase(t, "U1", "G2", "doku", "INV-2", purchasedomain.StatusCompleted, base.Add(time.Hour))
	s.seedPurchase(t, "U1", "G2", "doku", "INV-3", purchasedomain.StatusFailed, base.Add(2*time.Hour))
	s.seedPurchase(t, "U2", "G1", "doku", "INV-4", purchasedomain.StatusCompleted, base)

	type page struct {
		Data     []purchaseView `json:"data"`
		PageInfo struct {
			NextPageToken string `json:"next_page_token"`
			HasMore       bool   `json:"has_more"`
		} `json:"page_info"`
	}

	rec := s.do(t, http.MethodGet, "/api/library?page_size=1", "U1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Len(t, first.Data, 1)
	assert.Equal(t, "INV-2", first.Data[0].GatewayOrderID)
	require.True(t, first.PageInfo.HasMore)

	rec = s.do(t, http.MethodGet, "/api/library?page_size=1&page_token="+first.PageInfo.NextPageToken, "U1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Len(t, second.Data, 1)
	assert.Equal(t, "INV-1", second.Data[0].GatewayOrderID)
	assert.False(t, second.PageInfo.HasMore)
	assert.Empty(t, second.PageInfo.NextPageToken)

	rec = s.do(t, http.MethodGet, "/api/library?page_size=0", "U1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiptOnlyForCompletedPurchases(t *testing.T) {
	s := newTestServer(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seedPurchase(t, "U1", "G1", "doku", "INV-1", purchasedomain.StatusCompleted, now)
	s.seedPurchase(t, "U1", "G2", "doku", "INV-2", purchasedomain.StatusPending, now)

	rec := s.do(t, http.MethodGet, "/api/purchases/INV-1/receipt", "U1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = s.do(t, http.MethodGet, "/api/purchases/INV-2/receipt", "U1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/purchases/INV-1/receipt", "U2", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapError(t *testing.T) {
	declined := &paymentdomain.GatewayError{
		Gateway:    "paypal",
		Operation:  "capture_order",
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "UNPROCESSABLE_ENTITY",
		Message:    "INSTRUMENT_DECLINED",
		Err:        paymentdomain.ErrGatewayRejected,
	}
	cases := []struct {
		err     error
		status  int
		errType string
	}{
		{declined, http.StatusPaymentRequired, "payment_failed"},
		{paymentdomain.ErrPaymentNotCompleted, http.StatusPaymentRequired, "payment_failed"},
		{paymentdomain.ErrGatewayAuth, http.StatusServiceUnavailable, "gateway_unavailable"},
		{paymentdomain.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
		{paymentdomain.ErrConfiguration, http.StatusInternalServerError, "internal_error"},
		{purchasedomain.ErrStorage, http.StatusInternalServerError, "internal_error"},
		{purchasedomain.ErrAlreadyOwned, http.StatusConflict, "already_owned"},
		{fmt.Errorf("%w: %w", purchasedomain.ErrDuplicateOrder, purchasedomain.ErrStorage), http.StatusConflict, "duplicate_order"},
		{paymentdomain.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
		{paymentdomain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{purchasedomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.errType, payload.Type, tc.err.Error())
	}

	_, payload := mapError(declined)
	assert.Equal(t, "INSTRUMENT_DECLINED", payload.Message)
}
