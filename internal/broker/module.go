package broker

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"atm_algo/internal/modules/config"
	"atm_algo/pkg/retry"
)

func policy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
		Timeout:     cfg.Retry.Timeout,
	}
}

func newClient(cfg *config.Config, log *zap.Logger) *Client {
	return NewClient(Config{
		APIKey:     cfg.Angel.APIKey,
		ClientCode: cfg.Angel.ClientCode,
		Password:   cfg.Angel.Password,
		TOTPSecret: cfg.Angel.TOTPSecret,
		BaseURL:    cfg.Angel.BaseURL,
		LocalIP:    cfg.Angel.LocalIP,
		PublicIP:   cfg.Angel.PublicIP,
		MAC:        cfg.Angel.MAC,
		Retry:      policy(cfg),
	}, log)
}

func newMaster(cfg *config.Config, log *zap.Logger) *Master {
	return NewMaster(cfg.Angel.MasterURL, cfg.Angel.MasterCache, policy(cfg), log)
}

func newFeed(cfg *config.Config, log *zap.Logger) *Feed {
	return NewFeed(cfg.Angel.WSURL, cfg.Angel.APIKey, cfg.Angel.ClientCode, log)
}

// startFeed subscribes the configured symbols and runs the LTP stream for the
// lifetime of the app.
func startFeed(lc fx.Lifecycle, cfg *config.Config, c *Client, f *Feed) {
	if !cfg.Angel.UseFeed {
		return
	}
	for _, s := range append(append([]config.Symbol{}, cfg.Runner.Symbols...), cfg.Runner.Indices...) {
		f.Subscribe(s.Exchange, s.Token)
	}
	c.UseFeed(f, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				f.Run(ctx, c)
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
	return fx.Module("broker",
		fx.Provide(
			newClient, // *Client
			newMaster, // *Master
			newFeed,   // *Feed
		),
		fx.Invoke(startFeed),
	)
}
