package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"atm_algo/internal/models"
)

// Breakout trades a close outside the previous candle's range.
type Breakout struct{}

func NewBreakout() *Breakout { return &Breakout{} }

func (b *Breakout) Name() models.StrategyType { return models.StrategyBreakout }

func (b *Breakout) Evaluate(s models.IndicatorSnapshot) models.Signal {
	for _, v := range []float64{s.Close, s.PrevHigh, s.PrevLow} {
		if math.IsNaN(v) || v <= 0 {
			return models.Hold(s.Symbol, "no previous candle")
		}
	}

	var side models.Side
	var reason string
	switch {
	case s.Close > s.PrevHigh:
		side = models.SideBuy
		reason = fmt.Sprintf("breakout UP: close=%.2f > prev high=%.2f", s.Close, s.PrevHigh)
	case s.Close < s.PrevLow:
		side = models.SideSell
		reason = fmt.Sprintf("breakout DOWN: close=%.2f < prev low=%.2f", s.Close, s.PrevLow)
	default:
		return models.Hold(s.Symbol, "inside previous range")
	}

	return models.Signal{
		Symbol:   s.Symbol,
		Side:     side,
		Price:    decimal.NewFromFloat(s.Close),
		Strategy: models.StrategyBreakout,
		Reason:   reason,
	}
}
