package strike

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"atm_algo/internal/models"
)

// DefaultHysteresis is the half-width of the no-flip band around the
// lower/upper midpoint, as a fraction of the strike step.
var DefaultHysteresis = decimal.RequireFromString("0.02")

// StrikeCache keeps the last resolved strike per key across cycles.
type StrikeCache struct {
	mu    sync.Mutex
	state map[string]models.StrikeState
}

func NewStrikeCache() *StrikeCache {
	return &StrikeCache{state: make(map[string]models.StrikeState)}
}

func (c *StrikeCache) Get(key string) (models.StrikeState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[key]
	return st, ok
}

func (c *StrikeCache) Set(key string, strike decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = models.StrikeState{Key: key, LastStrike: strike}
}

// Resolver maps a spot price to the at-the-money strike for a key.
type Resolver struct {
	cache *StrikeCache
	band  decimal.Decimal
}

func NewResolver(cache *StrikeCache, hysteresis decimal.Decimal) *Resolver {
	if cache == nil {
		cache = NewStrikeCache()
	}
	if hysteresis.Sign() <= 0 {
		hysteresis = DefaultHysteresis
	}
	return &Resolver{cache: cache, band: hysteresis}
}

// Resolve picks the strike closest to spot. Near the flip boundary
// (|spot - midpoint| <= step*band) the previous strike for key is kept as
// long as it still brackets spot.
func (r *Resolver) Resolve(key string, spot decimal.Decimal, step int64) (decimal.Decimal, error) {
	if step <= 0 {
		return decimal.Zero, fmt.Errorf("strike step must be positive, got %d", step)
	}
	if spot.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("spot must be positive, got %s", spot)
	}
	st := decimal.NewFromInt(step)

	lower := spot.Div(st).Floor().Mul(st)
	upper := lower.Add(st)
	mid := lower.Add(st.Div(decimal.NewFromInt(2)))

	strike := upper
	if spot.LessThan(mid) {
		strike = lower
	}

	if prev, ok := r.cache.Get(key); ok {
		near := spot.Sub(mid).Abs().LessThanOrEqual(st.Mul(r.band))
		brackets := prev.LastStrike.Equal(lower) || prev.LastStrike.Equal(upper)
		if near && brackets {
			strike = prev.LastStrike
		}
	}

	r.cache.Set(key, strike)
	return strike, nil
}

func (r *Resolver) Cache() *StrikeCache { return r.cache }
