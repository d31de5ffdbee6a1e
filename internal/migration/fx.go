package migration

import (
	"github.com/smallbiznis/balancebook/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		// Only postgres has SQL migrations; the other dialects are built
		// from the models.
		if cfg.DBType != "postgres" || cfg.DBAutoMigrate {
			log.Info("auto migrating schema", zap.String("type", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
