package status_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gamestore/internal/payment/status"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/gamestore/internal/purchase/repository"
	"github.com/smallbiznis/gamestore/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// brokenLookup fails order lookups so the ownership fallback is exercised.
type brokenLookup struct {
	purchasedomain.Repository
}

func (brokenLookup) FindByGatewayOrderID(ctx context.Context, db *gorm.DB, gateway, orderID string) (*purchasedomain.PurchaseRecord, error) {
	return nil, purchasedomain.ErrStorage
}

func insert(t *testing.T, db *gorm.DB, node *snowflake.Node, gateway, orderID, userID string, s purchasedomain.PaymentStatus) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := purchaserepo.Provide().Insert(context.Background(), db, &purchasedomain.PurchaseRecord{
		ID:             node.Generate(),
		UserID:         userID,
		GameID:         "G1",
		Amount:         2999,
		Currency:       "USD",
		PaymentStatus:  s,
		PaymentGateway: gateway,
		GatewayOrderID: orderID,
		PaymentDetails: datatypes.JSONMap{},
		PurchaseDate:   now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestCheckReadsRecordScopedToUser(t *testing.T) {
	db := testutil.SetupDB(t)
	node, _ := snowflake.NewNode(2)
	insert(t, db, node, "doku", "INV-1", "U1", purchasedomain.StatusCompleted)

	svc := status.NewService(status.Params{DB: db, Log: zap.NewNop(), Repo: purchaserepo.Provide()})

	view, err := svc.Check(context.Background(), status.Query{UserID: "U1", GatewayOrderID: "INV-1"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if view.Status != purchasedomain.StatusCompleted || view.PurchaseID == nil {
		t.Fatalf("unexpected view %+v", view)
	}

	if _, err := svc.Check(context.Background(), status.Query{UserID: "U2", GatewayOrderID: "INV-1"}); !errors.Is(err, purchasedomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
}

func TestCheckUncapturedOrderWithGameIsPending(t *testing.T) {
	db := testutil.SetupDB(t)
	svc := status.NewService(status.Params{DB: db, Log: zap.NewNop(), Repo: purchaserepo.Provide()})

	view, err := svc.Check(context.Background(), status.Query{UserID: "U1", GatewayOrderID: "ORDER-9", Gateway: "paypal", GameID: "G1"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if view.Status != purchasedomain.StatusPending {
		t.Fatalf("expected pending, got %s", view.Status)
	}
}

func TestCheckFallsBackToOwnership(t *testing.T) {
	db := testutil.SetupDB(t)
	node, _ := snowflake.NewNode(2)
	insert(t, db, node, "paypal", "ORDER-1", "U1", purchasedomain.StatusCompleted)

	svc := status.NewService(status.Params{DB: db, Log: zap.NewNop(), Repo: brokenLookup{purchaserepo.Provide()}})

	view, err := svc.Check(context.Background(), status.Query{UserID: "U1", GatewayOrderID: "ORDER-1", GameID: "G1"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if view.Status != purchasedomain.StatusCompleted {
		t.Fatalf("expected completed from ownership query, got %s", view.Status)
	}

	if _, err := svc.Check(context.Background(), status.Query{UserID: "U1", GatewayOrderID: "ORDER-1"}); !errors.Is(err, purchasedomain.ErrStorage) {
		t.Fatalf("expected storage error without game id, got %v", err)
	}
}

func TestPollerAgainstStore(t *testing.T) {
	db := testutil.SetupDB(t)
	node, _ := snowflake.NewNode(2)
	insert(t, db, node, "doku", "INV-2", "U1", purchasedomain.StatusFailed)

	svc := status.NewService(status.Params{DB: db, Log: zap.NewNop(), Repo: purchaserepo.Provide()})
	p := &status.Poller{Checker: svc, Interval: time.Millisecond, MaxAttempts: 3}

	res := p.Run(context.Background(), status.Query{UserID: "U1", GatewayOrderID: "INV-2"})
	if res.State != status.StateFailed || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}
