package migration

import (
	"strings"

	"github.com/smallbiznis/reconciler/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(applyOnStart),
)

func applyOnStart(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")

	// Embedded migrations target postgres; other dialects are managed externally.
	if !strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
		log.Warn("skipping embedded migrations", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	res, err := RunMigrations(sqlDB)
	if err != nil {
		log.Error("schema migration failed", zap.Uint("from_version", res.From), zap.Error(err))
		return err
	}

	latest, err := LatestVersion()
	if err != nil {
		return err
	}
	log.Info("schema ready",
		zap.Uint("from_version", res.From),
		zap.Uint("version", res.To),
		zap.Uint("latest_embedded", latest),
		zap.Bool("applied", res.Applied()),
	)
	return nil
}
