package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gamestore/internal/purchase/domain"
	pkgdb "github.com/smallbiznis/gamestore/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const purchaseColumns = `id, user_id, game_id, amount, currency, payment_status, payment_gateway,
	gateway_order_id, gateway_transaction_id, payment_details, purchase_date, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PurchaseRecord, error) {
	return r.findOne(ctx, db,
		`SELECT `+purchaseColumns+`
		 FROM purchases
		 WHERE id = ?
		 LIMIT 1`,
		id,
	)
}

func (r *repo) FindByGatewayOrderID(ctx context.Context, db *gorm.DB, gateway, orderID string) (*domain.PurchaseRecord, error) {
	return r.findOne(ctx, db,
		`SELECT `+purchaseColumns+`
		 FROM purchases
		 WHERE payment_gateway = ? AND gateway_order_id = ?
		 LIMIT 1`,
		gateway,
		orderID,
	)
}

func (r *repo) LockByGatewayOrderID(ctx context.Context, db *gorm.DB, gateway, orderID string) (*domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + `
		 FROM purchases
		 WHERE payment_gateway = ? AND gateway_order_id = ?
		 LIMIT 1`
	if pkgdb.SupportsRowLocks(db) {
		query += ` FOR UPDATE`
	}
	return r.findOne(ctx, db, query, gateway, orderID)
}

func (r *repo) FindCompletedByUserAndGame(ctx context.Context, db *gorm.DB, userID, gameID string) (*domain.PurchaseRecord, error) {
	return r.findOne(ctx, db,
		`SELECT `+purchaseColumns+`
		 FROM purchases
		 WHERE user_id = ? AND game_id = ? AND payment_status = ?
		 LIMIT 1`,
		userID,
		gameID,
		domain.StatusCompleted,
	)
}

func (r *repo) ListCompletedByUser(ctx context.Context, db *gorm.DB, userID string, after *domain.LibraryCursor, limit int) ([]*domain.PurchaseRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + purchaseColumns + `
		 FROM purchases
		 WHERE user_id = ? AND payment_status = ?`
	args := []any{userID, domain.StatusCompleted}
	if after != nil {
		query += ` AND (purchase_date < ? OR (purchase_date = ? AND id < ?))`
		args = append(args, after.PurchaseDate, after.PurchaseDate, after.ID)
	}
	query += ` ORDER BY purchase_date DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var items []*domain.PurchaseRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, storageErr(err)
	}
	return items, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.PurchaseRecord) error {
	if record == nil {
		return domain.ErrInvalidRecord
	}
	details := record.PaymentDetails
	if details == nil {
		details = datatypes.JSONMap{}
	}

	err := db.WithContext(ctx).Exec(
		`INSERT INTO purchases (
			id, user_id, game_id, amount, currency, payment_status, payment_gateway,
			gateway_order_id, gateway_transaction_id, payment_details, purchase_date, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		record.GameID,
		record.Amount,
		record.Currency,
		record.PaymentStatus,
		record.PaymentGateway,
		record.GatewayOrderID,
		record.GatewayTransactionID,
		details,
		record.PurchaseDate,
		record.UpdatedAt,
	).Error
	if err != nil {
		return storageErr(err)
	}
	record.PaymentDetails = details
	return nil
}

// UpdateStatusAndDetails applies a forward transition only while the stored
// status still equals params.From. gateway_order_id is never written.
func (r *repo) UpdateStatusAndDetails(ctx context.Context, db *gorm.DB, params domain.UpdateStatusParams) (bool, error) {
	if !params.From.CanTransition(params.To) {
		return false, domain.ErrInvalidTransition
	}
	details := params.Details
	if details == nil {
		details = datatypes.JSONMap{}
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE purchases
		 SET payment_status = ?,
			gateway_transaction_id = COALESCE(?, gateway_transaction_id),
			payment_details = ?,
			updated_at = ?
		 WHERE id = ? AND payment_status = ?`,
		params.To,
		params.TransactionID,
		details,
		params.UpdatedAt,
		params.ID,
		params.From,
	)
	if res.Error != nil {
		return false, storageErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateDetails replaces payment_details while the status is still status.
func (r *repo) UpdateDetails(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.PaymentStatus, details datatypes.JSONMap, updatedAt time.Time) (bool, error) {
	if details == nil {
		details = datatypes.JSONMap{}
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE purchases
		 SET payment_details = ?, updated_at = ?
		 WHERE id = ? AND payment_status = ?`,
		details,
		updatedAt,
		id,
		status,
	)
	if res.Error != nil {
		return false, storageErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.PurchaseRecord, error) {
	var item domain.PurchaseRecord
	err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error
	if err != nil {
		return nil, storageErr(err)
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func storageErr(err error) error {
	if pkgdb.IsDuplicateKeyErr(err) {
		if isGatewayOrderConflict(pkgdb.DuplicateKeyTarget(err)) {
			return fmt.Errorf("%w: %w", domain.ErrDuplicateOrder, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrAlreadyOwned, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}

// isGatewayOrderConflict reports whether a unique violation came from the
// (payment_gateway, gateway_order_id) index rather than completed ownership.
func isGatewayOrderConflict(target string) bool {
	return strings.Contains(target, "ux_purchases_gateway_order") || strings.Contains(target, "gateway_order_id")
}
