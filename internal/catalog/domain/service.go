package domain

import (
	"context"
	"errors"
)

type Service interface {
	Get(ctx context.Context, key string) (*Game, error)
	Price(ctx context.Context, gameID, currency string) (int64, error)
}

var (
	ErrInvalidGame     = errors.New("invalid_game")
	ErrGameNotFound    = errors.New("game_not_found")
	ErrInvalidCurrency = errors.New("invalid_currency")
)
