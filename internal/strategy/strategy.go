package strategy

import "atm_algo/internal/models"

// Engine turns the latest indicator snapshot of one symbol into a decision.
// Implementations are pure: the same snapshot always yields the same Signal.
type Engine interface {
	Evaluate(snap models.IndicatorSnapshot) models.Signal
	Name() models.StrategyType
}
