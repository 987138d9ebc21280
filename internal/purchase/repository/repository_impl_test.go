package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gamestore/internal/purchase/domain"
	"github.com/smallbiznis/gamestore/internal/purchase/repository"
	"github.com/smallbiznis/gamestore/internal/testutil"
	"gorm.io/datatypes"
)

func newRecord(node *snowflake.Node, user, game, orderID string, status domain.PaymentStatus, at time.Time) *domain.PurchaseRecord {
	return &domain.PurchaseRecord{
		ID:             node.Generate(),
		UserID:         user,
		GameID:         game,
		Amount:         150000,
		Currency:       "IDR",
		PaymentStatus:  status,
		PaymentGateway: "doku",
		GatewayOrderID: orderID,
		PaymentDetails: datatypes.JSONMap{"invoice_number": orderID},
		PurchaseDate:   at,
		UpdatedAt:      at,
	}
}

func TestInsertAndFindByGatewayOrderID(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupDB(t)
	repo := repository.Provide()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC().Truncate(time.Second)

	record := newRecord(node, "user-1", "game-1", "INV-1", domain.StatusPending, now)
	if err := repo.Insert(ctx, db, record); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := repo.FindByGatewayOrderID(ctx, db, "doku", "INV-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil {
		t.Fatalf("expected record")
	}
	if got.ID != record.ID || got.PaymentStatus != domain.StatusPending {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.PaymentDetails["invoice_number"] != "INV-1" {
		t.Fatalf("expected details round-trip, got %v", got.PaymentDetails)
	}

	missing, err := repo.FindByGatewayOrderID(ctx, db, "paypal", "INV-1")
	if err != nil {
		t.Fatalf("find other gateway: %v", err)
	}
	if missing != nil {
		t.Fatalf("lookup must be scoped by gateway")
	}
}

func TestInsertSecondCompletedForOwnerFails(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupDB(t)
	repo := repository.Provide()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC()

	if err := repo.Insert(ctx, db, newRecord(node, "user-1", "game-1", "A", domain.StatusCompleted, now)); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	err := repo.Insert(ctx, db, newRecord(node, "user-1", "game-1", "B", domain.StatusCompleted, now))
	if !errors.Is(err, domain.ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned, got %v", err)
	}

	// pending and failed records for an owned game are still allowed
	if err := repo.Insert(ctx, db, newRecord(node, "user-1", "game-1", "C", domain.StatusFailed, now)); err != nil {
		t.Fatalf("insert failed record: %v", err)
	}
	testutil.AssertCount(t, db, "SELECT COUNT(1) FROM purchases WHERE user_id = ?", 2, "user-1")
}

func TestUpdateStatusAndDetailsIsConditional(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupDB(t)
	repo := repository.Provide()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC()

	record := newRecord(node, "user-1", "game-1", "INV-2", domain.StatusPending, now)
	if err := repo.Insert(ctx, db, record); err != nil {
		t.Fatalf("insert: %v", err)
	}

	txID := "TX-9"
	updated, err := repo.UpdateStatusAndDetails(ctx, db, domain.UpdateStatusParams{
		ID:            record.ID,
		From:          domain.StatusPending,
		To:            domain.StatusCompleted,
		TransactionID: &txID,
		Details:       domain.MergeDetails(record.PaymentDetails, datatypes.JSONMap{"status": "SUCCESS"}),
		UpdatedAt:     now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated {
		t.Fatalf("expected row updated")
	}

	// a second writer holding a stale view must not win
	updated, err = repo.UpdateStatusAndDetails(ctx, db, domain.UpdateStatusParams{
		ID:        record.ID,
		From:      domain.StatusPending,
		To:        domain.StatusFailed,
		UpdatedAt: now.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if updated {
		t.Fatalf("expected stale update to be skipped")
	}

	got, err := repo.FindByID(ctx, db, record.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.PaymentStatus != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.PaymentStatus)
	}
	if got.GatewayTransactionID == nil || *got.GatewayTransactionID != txID {
		t.Fatalf("expected transaction id set, got %v", got.GatewayTransactionID)
	}
	if got.GatewayOrderID != "INV-2" {
		t.Fatalf("gateway order id changed: %s", got.GatewayOrderID)
	}
	if got.PaymentDetails["invoice_number"] != "INV-2" || got.PaymentDetails["status"] != "SUCCESS" {
		t.Fatalf("expected merged details, got %v", got.PaymentDetails)
	}
}

func TestUpdateStatusAndDetailsRejectsBackwardTransition(t *testing.T) {
	repo := repository.Provide()
	db := testutil.SetupDB(t)

	_, err := repo.UpdateStatusAndDetails(context.Background(), db, domain.UpdateStatusParams{
		ID:   1,
		From: domain.StatusCompleted,
		To:   domain.StatusPending,
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompletingSecondRecordForOwnerFails(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupDB(t)
	repo := repository.Provide()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC()

	if err := repo.Insert(ctx, db, newRecord(node, "user-1", "game-1", "A", domain.StatusCompleted, now)); err != nil {
		t.Fatalf("insert completed: %v", err)
	}
	pending := newRecord(node, "user-1", "game-1", "B", domain.StatusPending, now)
	if err := repo.Insert(ctx, db, pending); err != nil {
		t.Fatalf("insert pending: %v", err)
	}

	_, err := repo.UpdateStatusAndDetails(ctx, db, domain.UpdateStatusParams{
		ID:        pending.ID,
		From:      domain.StatusPending,
		To:        domain.StatusCompleted,
		UpdatedAt: now,
	})
	if !errors.Is(err, domain.ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned, got %v", err)
	}
	testutil.AssertCount(t, db, "SELECT COUNT(1) FROM purchases WHERE payment_status = 'completed'", 1)
}

func TestFindCompletedAndListLibrary(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupDB(t)
	repo := repository.Provide()
	node, _ := snowflake.NewNode(1)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, game := range []string{"game-1", "game-2", "game-3"} {
		rec := newRecord(node, "user-1", game, "ORD-"+game, domain.StatusCompleted, base.Add(time.Duration(i)*time.Hour))
		if err := repo.Insert(ctx, db, rec); err != nil {
			t.Fatalf("insert %s: %v", game, err)
		}
	}
	if err := repo.Insert(ctx, db, newRecord(node, "user-1", "game-4", "ORD-pending", domain.StatusPending, base)); err != nil {
		t.Fatalf("insert pending: %v", err)
	}

	owned, err := repo.FindCompletedByUserAndGame(ctx, db, "user-1", "game-2")
	if err != nil || owned == nil {
		t.Fatalf("expected owned record, got %v (%v)", owned, err)
	}
	notOwned, err := repo.FindCompletedByUserAndGame(ctx, db, "user-1", "game-4")
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if notOwned != nil {
		t.Fatalf("pending purchase must not count as owned")
	}

	page, err := repo.ListCompletedByUser(ctx, db, "user-1", nil, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].GameID != "game-3" || page[1].GameID != "game-2" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	last := page[len(page)-1]
	next, err := repo.ListCompletedByUser(ctx, db, "user-1", &domain.LibraryCursor{PurchaseDate: last.PurchaseDate, ID: last.ID}, 2)
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if len(next) != 1 || next[0].GameID != "game-1" {
		t.Fatalf("unexpected second page: %+v", next)
	}
}

func TestUpdateDetailsKeepsStatus(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupDB(t)
	repo := repository.Provide()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC()

	record := newRecord(node, "user-1", "game-1", "INV-3", domain.StatusPending, now)
	if err := repo.Insert(ctx, db, record); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := repo.UpdateDetails(ctx, db, record.ID, domain.StatusPending, datatypes.JSONMap{"note": "x"}, now)
	if err != nil || !updated {
		t.Fatalf("expected update, got %v (%v)", updated, err)
	}
	updated, err = repo.UpdateDetails(ctx, db, record.ID, domain.StatusCompleted, datatypes.JSONMap{"note": "y"}, now)
	if err != nil {
		t.Fatalf("update with stale status: %v", err)
	}
	if updated {
		t.Fatalf("expected no update for stale status")
	}

	got, _ := repo.FindByID(ctx, db, record.ID)
	if got.PaymentStatus != domain.StatusPending || got.PaymentDetails["note"] != "x" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestInsertReusedGatewayOrderIsNotOwnership(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupDB(t)
	repo := repository.Provide()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC()

	if err := repo.Insert(ctx, db, newRecord(node, "user-1", "game-1", "INV-9", domain.StatusPending, now)); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	err := repo.Insert(ctx, db, newRecord(node, "user-2", "game-2", "INV-9", domain.StatusPending, now))
	if !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	if errors.Is(err, domain.ErrAlreadyOwned) {
		t.Fatalf("gateway order conflict must not read as ownership")
	}
}
