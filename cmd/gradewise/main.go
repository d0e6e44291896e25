package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/internal/aigrading"
	"github.com/smallbiznis/gradewise/internal/assessment"
	"github.com/smallbiznis/gradewise/internal/authorization"
	"github.com/smallbiznis/gradewise/internal/bulkgrading"
	"github.com/smallbiznis/gradewise/internal/clock"
	"github.com/smallbiznis/gradewise/internal/config"
	"github.com/smallbiznis/gradewise/internal/credit"
	"github.com/smallbiznis/gradewise/internal/migration"
	"github.com/smallbiznis/gradewise/internal/observability"
	"github.com/smallbiznis/gradewise/internal/purchase"
	"github.com/smallbiznis/gradewise/internal/ratelimit"
	"github.com/smallbiznis/gradewise/internal/rating"
	"github.com/smallbiznis/gradewise/internal/scheduler"
	"github.com/smallbiznis/gradewise/internal/scoring"
	"github.com/smallbiznis/gradewise/internal/server"
	"github.com/smallbiznis/gradewise/internal/usage"
	"github.com/smallbiznis/gradewise/pkg/db"
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
		migration.Module,
		ratelimit.Module,
		authorization.Module,

		// Ledger
		usage.Module,
		credit.Module,
		purchase.Module,

		// Grading
		rating.Module,
		assessment.Module,
		scoring.Module,
		aigrading.Module,
		bulkgrading.Module,

		scheduler.Module,
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
