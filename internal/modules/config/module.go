package config

import "go.uber.org/fx"

// Module registers *Config as an fx provider.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
	)
}
