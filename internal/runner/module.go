package runner

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"atm_algo/internal/broker"
	"atm_algo/internal/indicator"
	"atm_algo/internal/modules/config"
	"atm_algo/internal/modules/health/service"
	"atm_algo/internal/notify"
	"atm_algo/internal/position"
	"atm_algo/internal/strategy"
	"atm_algo/internal/strike"
)

func newResolver(cfg *config.Config) *strike.Resolver {
	return strike.NewResolver(strike.NewStrikeCache(), decimal.NewFromFloat(cfg.Strike.HysteresisFrac))
}

func newRunner(
	cfg *config.Config,
	client *broker.Client,
	master *broker.Master,
	indicators *indicator.Engine,
	engine strategy.Engine,
	resolver *strike.Resolver,
	positions *position.Manager,
	n notify.Notifier,
	state *service.State,
	log *zap.Logger,
) *Runner {
	return New(SettingsFrom(cfg), client, master, indicators, engine, resolver, positions, n, state, log)
}

func run(lc fx.Lifecycle, r *Runner) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				r.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			newResolver, // *strike.Resolver
			newRunner,   // *Runner
			func(c *broker.Client) position.OrderPlacer { return c },
			func(n notify.Notifier) position.Notifier { return n },
		),
		fx.Invoke(run),
	)
}
