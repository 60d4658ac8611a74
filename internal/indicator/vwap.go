package indicator

import (
	"math"

	"github.com/shopspring/decimal"

	"atm_algo/internal/models"
)

var three = decimal.NewFromInt(3)

// VWAP is cumulative(typical*volume)/cumulative(volume) over the whole input.
// Session boundaries are the caller's concern: pass one session of candles.
// Returns NaN when total volume is zero.
func VWAP(cs []models.Candle) float64 {
	pv := decimal.Zero
	vol := decimal.Zero
	for _, c := range cs {
		typical := c.High.Add(c.Low).Add(c.Close).Div(three)
		pv = pv.Add(typical.Mul(c.Volume))
		vol = vol.Add(c.Volume)
	}
	if vol.IsZero() {
		return math.NaN()
	}
	return pv.Div(vol).InexactFloat64()
}
