package notify

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"atm_algo/internal/modules/config"
	"atm_algo/internal/position"
)

// newNotifier always logs and adds Telegram when a bot token is configured.
// A Telegram failure at startup degrades to log-only delivery.
func newNotifier(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, store *position.Store) Notifier {
	logN := NewLog(log)
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		return logN
	}
	tg, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		log.Warn("telegram disabled", zap.Error(err))
		return logN
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			tg.ServePositions(context.Background(), store.Open)
			return nil
		},
		OnStop: func(context.Context) error {
			tg.Stop()
			return nil
		},
	})
	return Multi{logN, tg}
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(newNotifier),
	)
}
