package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

// Run applies the embedded SQL on postgres and auto-migrates the models elsewhere.
func Run(conn *gorm.DB, log *zap.Logger) error {
	log = log.Named("migrations")
	if dialect := conn.Dialector.Name(); dialect != "postgres" {
		log.Info("applying schema from models", zap.String("dialect", dialect))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
