package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/internal/audit"
	"github.com/smallbiznis/balancebook/internal/auth"
	"github.com/smallbiznis/balancebook/internal/authorization"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/internal/config"
	"github.com/smallbiznis/balancebook/internal/customer"
	"github.com/smallbiznis/balancebook/internal/idempotency"
	"github.com/smallbiznis/balancebook/internal/ledger"
	"github.com/smallbiznis/balancebook/internal/observability"
	"github.com/smallbiznis/balancebook/internal/order"
	"github.com/smallbiznis/balancebook/internal/payment"
	"github.com/smallbiznis/balancebook/internal/product"
	"github.com/smallbiznis/balancebook/internal/query"
	"github.com/smallbiznis/balancebook/internal/ratelimit"
	"github.com/smallbiznis/balancebook/internal/receipt"
	"github.com/smallbiznis/balancebook/internal/server"
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

		// Redis backed locks, limiter and change feed fan-out when configured
		ratelimit.Module,
		changefeed.Module,

		customer.Module,
		product.Module,
		order.Module,
		payment.Module,
		ledger.Module,
		query.Module,
		receipt.Module,
		idempotency.Module,
		audit.Module,
		auth.Module,
		authorization.Module,

		// No scheduler here; run apps/scheduler next to it.
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
