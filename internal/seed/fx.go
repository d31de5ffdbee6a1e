package seed

import (
	"context"

	"github.com/smallbiznis/balancebook/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("seed",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, p Params) {
		if !cfg.SeedDemo {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return Demo(ctx, p)
			},
		})
	}),
)
