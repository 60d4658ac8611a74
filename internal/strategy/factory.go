package strategy

import "atm_algo/internal/models"

func NewEngine(name models.StrategyType, th Thresholds) Engine {
	switch name {
	case models.StrategyBreakout:
		return NewBreakout()
	case models.StrategyFusion, "":
		fallthrough
	default:
		return NewFusion(th)
	}
}
