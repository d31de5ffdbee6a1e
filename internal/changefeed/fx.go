package changefeed

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	obsmetrics "github.com/smallbiznis/balancebook/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("changefeed",
	fx.Provide(provideHub),
	fx.Provide(func(h *Hub) Publisher { return h }),
)

type hubParams struct {
	fx.In

	Lc      fx.Lifecycle
	Log     *zap.Logger
	Redis   *redis.Client       `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func provideHub(p hubParams) *Hub {
	hub := NewHub()
	if p.Metrics != nil {
		hub.observe = func(ctx context.Context, event Event) {
			p.Metrics.RecordChangefeedEvent(ctx, string(event.Collection))
		}
	}
	if p.Redis == nil {
		return hub
	}

	bridge := AttachRedis(hub, p.Redis, p.Log)
	p.Lc.Append(fx.Hook{
		OnStart: bridge.Start,
		OnStop:  bridge.Stop,
	})
	return hub
}
