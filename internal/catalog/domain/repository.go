package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByIDOrSlug(ctx context.Context, db *gorm.DB, key string) (*Game, error)
}
