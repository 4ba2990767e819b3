package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/huddlehq/metering/internal/clock"
	"github.com/huddlehq/metering/internal/config"
	"github.com/huddlehq/metering/internal/migration"
	"github.com/huddlehq/metering/internal/observability"
	"github.com/huddlehq/metering/internal/scheduler"
	"github.com/huddlehq/metering/internal/server"
	"github.com/huddlehq/metering/pkg/db"
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

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
