package migration

import (
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// Embedded migrations are postgres-only; test databases create their
		// schema directly.
		if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
