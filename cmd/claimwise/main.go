package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/claimwise/internal/audit"
	"github.com/smallbiznis/claimwise/internal/authorization"
	"github.com/smallbiznis/claimwise/internal/claim"
	"github.com/smallbiznis/claimwise/internal/clearinghouse"
	"github.com/smallbiznis/claimwise/internal/clock"
	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/internal/edi"
	"github.com/smallbiznis/claimwise/internal/logger"
	"github.com/smallbiznis/claimwise/internal/migration"
	"github.com/smallbiznis/claimwise/internal/observability"
	"github.com/smallbiznis/claimwise/internal/ratelimit"
	"github.com/smallbiznis/claimwise/internal/server"
	"github.com/smallbiznis/claimwise/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Claim lifecycle
		audit.Module,
		edi.Module,
		clearinghouse.Module,
		claim.Module,
		authorization.Module,
		ratelimit.Module,

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
