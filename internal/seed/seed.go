package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gosimple/slug"
	catalogdomain "github.com/smallbiznis/gamestore/internal/catalog/domain"
	"gorm.io/gorm"
)

// Game describes a catalog entry to bootstrap. Prices are in minor units.
type Game struct {
	ID            string
	Title         string
	PriceUSDCents int64
	PriceIDR      int64
}

// DefaultGames is the starter catalog used by local and demo environments.
var DefaultGames = []Game{
	{ID: "game-hollow-sky", Title: "Hollow Sky", PriceUSDCents: 1999, PriceIDR: 150000},
	{ID: "game-tide-runner", Title: "Tide Runner", PriceUSDCents: 999, PriceIDR: 99000},
	{ID: "game-iron-orchard", Title: "Iron Orchard", PriceUSDCents: 2499, PriceIDR: 249000},
}

// EnsureGames inserts missing catalog entries and refreshes the title and
// prices of existing ones. It returns how many rows were created.
func EnsureGames(ctx context.Context, db *gorm.DB, games []Game) (int, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}

	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, g := range games {
			ok, err := ensureGameTx(ctx, tx, g)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func ensureGameTx(ctx context.Context, tx *gorm.DB, g Game) (bool, error) {
	id := strings.TrimSpace(g.ID)
	title := strings.TrimSpace(g.Title)
	if id == "" || title == "" {
		return false, errors.New("seed game requires id and title")
	}
	if g.PriceUSDCents <= 0 || g.PriceIDR <= 0 {
		return false, errors.New("seed game prices must be positive")
	}

	now := time.Now().UTC()
	var existing catalogdomain.Game
	err := tx.WithContext(ctx).Where("id = ?", id).First(&existing).Error
	if err == nil {
		return false, tx.WithContext(ctx).Exec(
			`UPDATE games
			 SET title = ?, price_usd_cents = ?, price_idr = ?, updated_at = ?
			 WHERE id = ?`,
			title, g.PriceUSDCents, g.PriceIDR, now, id,
		).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	game := catalogdomain.Game{
		ID:            id,
		Slug:          slug.Make(title),
		Title:         title,
		PriceUSDCents: g.PriceUSDCents,
		PriceIDR:      g.PriceIDR,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.WithContext(ctx).Create(&game).Error; err != nil {
		return false, err
	}
	return true, nil
}
