package position

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"atm_algo/internal/modules/config"
	"atm_algo/internal/position/pg"
	"atm_algo/pkg/db"
)

type sinkParams struct {
	fx.In

	LC  fx.Lifecycle
	Cfg *config.Config
	Log *zap.Logger
	TxM *db.PgTxManager `optional:"true"`
}

// newSink stores trades in Postgres when a pool is available and in the JSONL
// journal otherwise.
func newSink(p sinkParams) (Sink, error) {
	if p.TxM != nil {
		p.Log.Info("trade log: postgres")
		return pg.NewTrades(p.TxM), nil
	}
	j, err := NewJournal(p.Cfg.Runner.JournalPath)
	if err != nil {
		return nil, err
	}
	p.Log.Info("trade log: journal", zap.String("path", p.Cfg.Runner.JournalPath))
	p.LC.Append(fx.Hook{
		OnStop: func(context.Context) error { return j.Close() },
	})
	return j, nil
}

func newManager(
	lc fx.Lifecycle,
	cfg *config.Config,
	store *Store,
	orders OrderPlacer,
	sink Sink,
	n Notifier,
	log *zap.Logger,
) *Manager {
	m := NewManager(store, orders, sink, n, log, Config{
		StopPct:       decimal.NewFromFloat(cfg.Risk.StopPct),
		TakeProfitPct: decimal.NewFromFloat(cfg.Risk.TakeProfitPct),
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			restored, err := m.Hydrate(ctx)
			if err != nil {
				log.Error("trade log rehydration failed", zap.Error(err))
				return nil
			}
			log.Info("open positions restored", zap.Int("count", restored))
			return nil
		},
	})
	return m
}

func Module() fx.Option {
	return fx.Module("position",
		fx.Provide(
			NewStore,   // *Store
			newSink,    // Sink
			newManager, // *Manager
		),
	)
}
