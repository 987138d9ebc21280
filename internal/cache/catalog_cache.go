package cache

import (
	"strings"
	"time"

	catalogdomain "github.com/smallbiznis/gamestore/internal/catalog/domain"
)

const defaultGameTTL = 5 * time.Minute

// GameCache stores hot-path catalog lookups for checkout pricing.
type GameCache interface {
	GetGame(key string) (*catalogdomain.Game, bool)
	SetGame(key string, game *catalogdomain.Game)
}

type gameCache struct {
	games Cache[string, *catalogdomain.Game]
	ttl   time.Duration
}

// NewGameCache returns an in-memory cache tuned for catalog reads.
func NewGameCache() GameCache {
	return &gameCache{
		games: NewTTLCache[string, *catalogdomain.Game](),
		ttl:   defaultGameTTL,
	}
}

func (c *gameCache) GetGame(key string) (*catalogdomain.Game, bool) {
	game, ok := c.games.Get(cacheKey(key))
	if !ok || game == nil {
		return nil, false
	}
	copied := *game
	return &copied, true
}

// SetGame indexes game under the lookup key as well as its id and slug.
func (c *gameCache) SetGame(key string, game *catalogdomain.Game) {
	if game == nil || game.ID == "" {
		return
	}
	copied := *game
	for _, k := range []string{key, game.ID, game.Slug} {
		if k = cacheKey(k); k != "" {
			c.games.Set(k, &copied, c.ttl)
		}
	}
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
