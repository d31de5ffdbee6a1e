package query

import (
	"context"

	"github.com/smallbiznis/balancebook/internal/changefeed"
	"go.uber.org/fx"
)

var Module = fx.Module("query.service",
	fx.Provide(NewService),
	fx.Invoke(registerWatch),
)

func registerWatch(lc fx.Lifecycle, svc *Service, hub *changefeed.Hub) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return svc.Watch(hub)
		},
		OnStop: func(context.Context) error {
			svc.Stop()
			return nil
		},
	})
}
