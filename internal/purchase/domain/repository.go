package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository reads and writes purchase records. Methods take the handle to run
// on so callers can pass a transaction. Lookups return (nil, nil) when nothing
// matches.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PurchaseRecord, error)
	FindByGatewayOrderID(ctx context.Context, db *gorm.DB, gateway, orderID string) (*PurchaseRecord, error)
	LockByGatewayOrderID(ctx context.Context, db *gorm.DB, gateway, orderID string) (*PurchaseRecord, error)
	FindCompletedByUserAndGame(ctx context.Context, db *gorm.DB, userID, gameID string) (*PurchaseRecord, error)
	ListCompletedByUser(ctx context.Context, db *gorm.DB, userID string, after *LibraryCursor, limit int) ([]*PurchaseRecord, error)
	Insert(ctx context.Context, db *gorm.DB, record *PurchaseRecord) error
	UpdateStatusAndDetails(ctx context.Context, db *gorm.DB, params UpdateStatusParams) (bool, error)
	UpdateDetails(ctx context.Context, db *gorm.DB, id snowflake.ID, status PaymentStatus, details datatypes.JSONMap, updatedAt time.Time) (bool, error)
}
