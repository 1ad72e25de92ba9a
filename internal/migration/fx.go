package migration

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/proposalpricing/internal/seed"
	pkgdb "github.com/smallbiznis/proposalpricing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg pkgdb.Config, node *snowflake.Node, log *zap.Logger) error {
		if cfg.IsPostgres() {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else if err := AutoMigrate(conn); err != nil {
			return err
		}

		return seed.EnsureDefaults(conn, node, log)
	}),
)
