package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	"github.com/clinidesk/caja/internal/config"
	"github.com/clinidesk/caja/internal/migration"
	"github.com/clinidesk/caja/internal/observability"
	"github.com/clinidesk/caja/internal/server"
	"github.com/clinidesk/caja/pkg/db"
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
