package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gosuraksha/entitlements/internal/account"
	"github.com/gosuraksha/entitlements/internal/audit"
	"github.com/gosuraksha/entitlements/internal/clock"
	"github.com/gosuraksha/entitlements/internal/config"
	"github.com/gosuraksha/entitlements/internal/counterstore"
	"github.com/gosuraksha/entitlements/internal/logger"
	"github.com/gosuraksha/entitlements/internal/migration"
	"github.com/gosuraksha/entitlements/internal/observability"
	"github.com/gosuraksha/entitlements/internal/plan"
	"github.com/gosuraksha/entitlements/internal/quota"
	"github.com/gosuraksha/entitlements/internal/server"
	"github.com/gosuraksha/entitlements/internal/subscription"
	"github.com/gosuraksha/entitlements/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		counterstore.Module,

		plan.Module,
		account.Module,
		audit.Module,
		quota.Module,
		subscription.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
