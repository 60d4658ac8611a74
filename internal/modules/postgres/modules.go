package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"atm_algo/internal/modules/config"
	"atm_algo/pkg/db"
)

// newTxManager connects to Postgres when a DSN is configured. Without one it
// provides nil and the trade log falls back to the journal file.
func newTxManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*db.PgTxManager, error) {
	if cfg.DB == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Retry.Timeout)
	defer cancel()

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN:      cfg.DB,
		MaxConns: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}
	if err := poolMaster.Ping(ctx); err != nil {
		poolMaster.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	log.Info("postgres connected")

	txm := db.NewPgTxManager(poolMaster)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			txm.Close()
			return nil
		},
	})
	return txm, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(newTxManager),
	)
}
