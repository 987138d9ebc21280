package catalog

import (
	"github.com/smallbiznis/gamestore/internal/cache"
	"github.com/smallbiznis/gamestore/internal/catalog/repository"
	"github.com/smallbiznis/gamestore/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(cache.NewGameCache),
	fx.Provide(service.New),
)
