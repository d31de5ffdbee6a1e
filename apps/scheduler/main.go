package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/internal/audit"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/internal/config"
	"github.com/smallbiznis/balancebook/internal/customer"
	"github.com/smallbiznis/balancebook/internal/idempotency"
	"github.com/smallbiznis/balancebook/internal/ledger"
	"github.com/smallbiznis/balancebook/internal/migration"
	"github.com/smallbiznis/balancebook/internal/observability"
	"github.com/smallbiznis/balancebook/internal/order"
	"github.com/smallbiznis/balancebook/internal/payment"
	"github.com/smallbiznis/balancebook/internal/product"
	"github.com/smallbiznis/balancebook/internal/ratelimit"
	"github.com/smallbiznis/balancebook/internal/scheduler"
	"github.com/smallbiznis/balancebook/pkg/db"
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
		ratelimit.Module,
		changefeed.Module,

		// Domain services required by scheduler
		customer.Module,
		product.Module,
		order.Module,
		payment.Module,
		ledger.Module,
		idempotency.Module,
		audit.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
