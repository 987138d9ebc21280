package repository

import (
	"context"

	"github.com/smallbiznis/gamestore/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByIDOrSlug(ctx context.Context, db *gorm.DB, key string) (*domain.Game, error) {
	var item domain.Game
	err := db.WithContext(ctx).Raw(
		`SELECT id, slug, title, price_usd_cents, price_idr, active, created_at, updated_at
		 FROM games
		 WHERE id = ? OR slug = ?
		 LIMIT 1`,
		key,
		key,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}
