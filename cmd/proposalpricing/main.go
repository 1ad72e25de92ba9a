package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/proposalpricing/internal/clock"
	"github.com/smallbiznis/proposalpricing/internal/config"
	"github.com/smallbiznis/proposalpricing/internal/migration"
	"github.com/smallbiznis/proposalpricing/internal/observability"
	"github.com/smallbiznis/proposalpricing/internal/scheduler"
	"github.com/smallbiznis/proposalpricing/internal/server"
	"github.com/smallbiznis/proposalpricing/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
