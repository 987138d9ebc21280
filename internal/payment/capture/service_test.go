package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogrepo "github.com/smallbiznis/gamestore/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/gamestore/internal/catalog/service"
	"github.com/smallbiznis/gamestore/internal/clock"
	"github.com/smallbiznis/gamestore/internal/events"
	"github.com/smallbiznis/gamestore/internal/payment/capture"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	"github.com/smallbiznis/gamestore/internal/payment/gateway/paypal"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/gamestore/internal/purchase/repository"
	"github.com/smallbiznis/gamestore/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubCapturer struct {
	calls  int
	result *paypal.CaptureResult
	err    error
	before func()
}

func (s *stubCapturer) CaptureOrder(ctx context.Context, orderID string) (*paypal.CaptureResult, error) {
	s.calls++
	if s.before != nil {
		s.before()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type recordingPublisher struct {
	events []events.PurchaseCompleted
}

func (p *recordingPublisher) PublishPurchaseCompleted(ctx context.Context, event events.PurchaseCompleted) error {
	p.events = append(p.events, event)
	return nil
}

func completedCapture() *paypal.CaptureResult {
	return capturedFor("G1", 2999, "USD")
}

func capturedFor(gameID string, amount int64, currency string) *paypal.CaptureResult {
	return &paypal.CaptureResult{
		OrderID:     "ORDER-1",
		Status:      paypal.StatusCompleted,
		CaptureID:   "T1",
		ReferenceID: gameID,
		Amount:      amount,
		Currency:    currency,
		Raw: map[string]any{
			"id":     "ORDER-1",
			"status": "COMPLETED",
			"purchase_units": []any{map[string]any{
				"reference_id": gameID,
				"payments":     map[string]any{"captures": []any{map[string]any{"id": "T1"}}},
			}},
		},
	}
}

type fixture struct {
	db        *gorm.DB
	svc       *capture.Service
	gateway   *stubCapturer
	publisher *recordingPublisher
	node      *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupDB(t)
	testutil.SeedGame(t, db, "G1", "hollow-sky", 2999, 150000)

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	gw := &stubCapturer{result: completedCapture()}
	publisher := &recordingPublisher{}
	svc := capture.NewService(capture.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:      purchaserepo.Provide(),
		Catalog:   catalogservice.New(catalogservice.Params{DB: db, Log: zap.NewNop(), Repo: catalogrepo.Provide()}),
		PayPal:    gw,
		Publisher: publisher,
	})
	return &fixture{db: db, svc: svc, gateway: gw, publisher: publisher, node: node}
}

func TestCaptureRecordsCompletedPurchase(t *testing.T) {
	f := newFixture(t)

	record, err := f.svc.Capture(context.Background(), capture.CaptureRequest{OrderID: "ORDER-1", UserID: "U1", GameID: "G1", Amount: 2999})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if record.PaymentStatus != purchasedomain.StatusCompleted {
		t.Fatalf("expected completed, got %s", record.PaymentStatus)
	}
	if record.Amount != 2999 || record.Currency != "USD" {
		t.Fatalf("expected captured amount 2999 USD, got %d %s", record.Amount, record.Currency)
	}
	if record.GatewayTransactionID == nil || *record.GatewayTransactionID != "T1" {
		t.Fatalf("expected transaction id T1, got %v", record.GatewayTransactionID)
	}

	stored, err := purchaserepo.Provide().FindByGatewayOrderID(context.Background(), f.db, "paypal", "ORDER-1")
	if err != nil || stored == nil {
		t.Fatalf("expected stored record, got %v (%v)", stored, err)
	}
	if stored.PaymentDetails["status"] != "COMPLETED" {
		t.Fatalf("expected raw capture response in details, got %v", stored.PaymentDetails)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].GameID != "G1" {
		t.Fatalf("expected one purchase.completed event, got %+v", f.publisher.events)
	}
}

func TestCaptureTwiceIsAlreadyOwned(t *testing.T) {
	f := newFixture(t)
	req := capture.CaptureRequest{OrderID: "ORDER-1", UserID: "U1", GameID: "G1", Amount: 2999}

	if _, err := f.svc.Capture(context.Background(), req); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	_, err := f.svc.Capture(context.Background(), req)
	if !errors.Is(err, purchasedomain.ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned, got %v", err)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("expected one gateway capture, got %d", f.gateway.calls)
	}
	testutil.AssertCount(t, f.db, "SELECT COUNT(1) FROM purchases WHERE payment_status = 'completed'", 1)
}

func TestCaptureNotCompleted(t *testing.T) {
	f := newFixture(t)
	f.gateway.result = &paypal.CaptureResult{OrderID: "ORDER-1", Status: "PENDING"}

	_, err := f.svc.Capture(context.Background(), capture.CaptureRequest{OrderID: "ORDER-1", UserID: "U1", GameID: "G1", Amount: 2999})
	if !errors.Is(err, paymentdomain.ErrPaymentNotCompleted) {
		t.Fatalf("expected ErrPaymentNotCompleted, got %v", err)
	}
	testutil.AssertCount(t, f.db, "SELECT COUNT(1) FROM purchases", 0)
}

func TestCaptureRejectsOrderForAnotherGame(t *testing.T) {
	f := newFixture(t)
	testutil.SeedGame(t, f.db, "G2", "tide-runner", 99, 15000)
	f.gateway.result = capturedFor("G2", 99, "USD")

	_, err := f.svc.Capture(context.Background(), capture.CaptureRequest{OrderID: "ORDER-1", UserID: "U1", GameID: "G1", Amount: 2999})
	if !errors.Is(err, paymentdomain.ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
	testutil.AssertCount(t, f.db, "SELECT COUNT(1) FROM purchases WHERE payment_status = 'completed'", 0)
	if len(f.publisher.events) != 0 {
		t.Fatalf("no event expected for a mismatched capture")
	}
}

func TestCaptureRejectsMismatchedAmount(t *testing.T) {
	cases := []*paypal.CaptureResult{
		capturedFor("G1", 99, "USD"),
		capturedFor("G1", 2999, "IDR"),
		capturedFor("G1", 0, ""),
	}
	for _, result := range cases {
		f := newFixture(t)
		f.gateway.result = result

		_, err := f.svc.Capture(context.Background(), capture.CaptureRequest{OrderID: "ORDER-1", UserID: "U1", GameID: "G1", Amount: 2999})
		if !errors.Is(err, paymentdomain.ErrInvalidAmount) {
			t.Fatalf("%d %s: expected ErrInvalidAmount, got %v", result.Amount, result.Currency, err)
		}
		testutil.AssertCount(t, f.db, "SELECT COUNT(1) FROM purchases", 0)
	}
}

func TestCaptureGatewayErrorsPassThrough(t *testing.T) {
	cases := []error{
		&paymentdomain.GatewayError{Gateway: "paypal", Operation: "token", StatusCode: 401, Err: paymentdomain.ErrGatewayAuth},
		&paymentdomain.GatewayError{Gateway: "paypal", Operation: "capture", StatusCode: 422, Err: paymentdomain.ErrGatewayRejected},
	}
	for _, gwErr := range cases {
		f := newFixture(t)
		f.gateway.err = gwErr

		_, err := f.svc.Capture(context.Background(), capture.CaptureRequest{OrderID: "ORDER-1", UserID: "U1", GameID: "G1", Amount: 2999})
		if !errors.Is(err, errors.Unwrap(gwErr)) {
			t.Fatalf("expected %v, got %v", errors.Unwrap(gwErr), err)
		}
		testutil.AssertCount(t, f.db, "SELECT COUNT(1) FROM purchases", 0)
	}
}

func TestCaptureLosesRaceToConcurrentWriter(t *testing.T) {
	f := newFixture(t)
	f.gateway.before = func() {
		now := time.Now().UTC()
		err := purchaserepo.Provide().Insert(context.Background(), f.db, &purchasedomain.PurchaseRecord{
			ID:             f.node.Generate(),
			UserID:         "U1",
			GameID:         "G1",
			Amount:         150000,
			Currency:       "IDR",
			PaymentStatus:  purchasedomain.StatusCompleted,
			PaymentGateway: "doku",
			GatewayOrderID: "INV-1",
			PurchaseDate:   now,
			UpdatedAt:      now,
		})
		if err != nil {
			t.Fatalf("concurrent insert: %v", err)
		}
	}

	_, err := f.svc.Capture(context.Background(), capture.CaptureRequest{OrderID: "ORDER-1", UserID: "U1", GameID: "G1", Amount: 2999})
	if !errors.Is(err, purchasedomain.ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned, got %v", err)
	}
	testutil.AssertCount(t, f.db, "SELECT COUNT(1) FROM purchases WHERE user_id = 'U1' AND game_id = 'G1'", 1)
	if len(f.publisher.events) != 0 {
		t.Fatalf("no event expected when capture loses the race")
	}
}

func TestCaptureValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		req  capture.CaptureRequest
		want error
	}{
		{capture.CaptureRequest{UserID: "U1", GameID: "G1", Amount: 2999}, paymentdomain.ErrInvalidOrderID},
		{capture.CaptureRequest{OrderID: "O", GameID: "G1", Amount: 2999}, paymentdomain.ErrInvalidUser},
		{capture.CaptureRequest{OrderID: "O", UserID: "U1", GameID: "G1"}, paymentdomain.ErrInvalidAmount},
		{capture.CaptureRequest{OrderID: "O", UserID: "U1", GameID: "G1", Amount: 100}, paymentdomain.ErrInvalidAmount},
	}
	for _, tc := range cases {
		if _, err := f.svc.Capture(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%+v: expected %v, got %v", tc.req, tc.want, err)
		}
	}
	if f.gateway.calls != 0 {
		t.Fatalf("gateway must not be called for invalid requests")
	}
}
