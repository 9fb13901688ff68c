package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	"github.com/smallbiznis/iahome/internal/migration"
	"github.com/smallbiznis/iahome/internal/observability"
	"github.com/smallbiznis/iahome/internal/server"
	"github.com/smallbiznis/iahome/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Schema must be current before seeding and serving.
		migration.Module,

		// Domains and HTTP
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
