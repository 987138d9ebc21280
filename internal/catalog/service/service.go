package service

import (
	"context"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/gamestore/internal/cache"
	"github.com/smallbiznis/gamestore/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Cache cache.GameCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	cache cache.GameCache
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		repo:  p.Repo,
		cache: p.Cache,
	}
}

// Get resolves a game by id, falling back to its normalized slug.
func (s *Service) Get(ctx context.Context, key string) (*domain.Game, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrInvalidGame
	}
	if s.cache != nil {
		if game, ok := s.cache.GetGame(key); ok {
			return game, nil
		}
	}

	game, err := s.repo.FindByIDOrSlug(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if game == nil {
		if normalized := slug.Make(key); normalized != key && normalized != "" {
			game, err = s.repo.FindByIDOrSlug(ctx, s.db, normalized)
			if err != nil {
				return nil, err
			}
		}
	}
	if game == nil || !game.Active {
		return nil, domain.ErrGameNotFound
	}
	if s.cache != nil {
		s.cache.SetGame(key, game)
	}
	return game, nil
}

func (s *Service) Price(ctx context.Context, gameID, currency string) (int64, error) {
	game, err := s.Get(ctx, gameID)
	if err != nil {
		return 0, err
	}
	price, ok := game.Price(strings.ToUpper(strings.TrimSpace(currency)))
	if !ok {
		return 0, domain.ErrInvalidCurrency
	}
	return price, nil
}
