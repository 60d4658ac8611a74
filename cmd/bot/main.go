package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"atm_algo/internal/broker"
	"atm_algo/internal/modules/config"
	"atm_algo/internal/modules/health"
	"atm_algo/internal/modules/postgres"
	"atm_algo/internal/notify"
	"atm_algo/internal/position"
	"atm_algo/internal/runner"
	"atm_algo/internal/strategy"
	"atm_algo/pkg/logger"
	"atm_algo/pkg/tracing"
)

const serviceName = "atm_algo"

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(serviceName)
	return logger.New(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	tracing.SetServiceName(serviceName)
	_, closer, err := tracing.InitTracer(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}

func main() {
	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		config.Module(),
		fx.Provide(
			newLogger,
			func(f *broker.Feed) health.FeedStatus { return f },
		),
		fx.Invoke(initTracing),
		postgres.Module(),
		health.Module(),
		broker.Module(),
		notify.Module(),
		strategy.Module(),
		position.Module(),
		runner.Module(),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		// the logger may not exist yet
		log.Fatal(err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("received %s, shutting down", sig)

	if err := app.Stop(ctx); err != nil {
		logger.Fatal("stop: %v", err)
	}
}
