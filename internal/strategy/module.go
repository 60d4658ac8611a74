package strategy

import (
	"go.uber.org/fx"

	"atm_algo/internal/indicator"
	"atm_algo/internal/models"
	"atm_algo/internal/modules/config"
)

func newIndicatorEngine(cfg *config.Config) *indicator.Engine {
	return indicator.NewEngine(indicator.Config{
		RSIPeriod:  cfg.Strategy.RSIPeriod,
		EMAPeriod:  cfg.Strategy.EMAPeriod,
		MACDFast:   cfg.Strategy.MACDFast,
		MACDSlow:   cfg.Strategy.MACDSlow,
		MACDSignal: cfg.Strategy.MACDSignal,
		SMAShort:   cfg.Strategy.SMAShort,
		SMALong:    cfg.Strategy.SMALong,
	})
}

func newEngine(cfg *config.Config) Engine {
	return NewEngine(models.StrategyType(cfg.Strategy.Name), Thresholds{
		RSIBuy:     cfg.Strategy.RSIBuy,
		RSISell:    cfg.Strategy.RSISell,
		PCRBuyMax:  cfg.Strategy.PCRBuyMax,
		PCRSellMin: cfg.Strategy.PCRSellMin,
	})
}

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			newIndicatorEngine, // *indicator.Engine
			newEngine,          // strategy.Engine
		),
	)
}
