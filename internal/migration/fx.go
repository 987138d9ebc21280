package migration

import (
	"github.com/smallbiznis/gamestore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs migrations against postgres; other dialects manage their schema out of band.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DBType != "postgres" {
		log.Warn("migrations skipped for non-postgres database", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	res, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	log.Info("migrations applied",
		zap.Uint("version", res.Version),
		zap.Bool("changed", res.Changed),
		zap.Bool("dirty", res.Dirty),
	)
	return nil
}
