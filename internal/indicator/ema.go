package indicator

type emaState struct {
	alpha  float64
	value  float64
	seeded bool
}

func newEMA(period int) emaState {
	if period <= 1 {
		period = 1
	}
	return emaState{alpha: 2.0 / (float64(period) + 1)}
}

// Update seeds from the first value, no bias adjustment afterwards.
func (e *emaState) Update(price float64) float64 {
	if !e.seeded {
		e.value = price
		e.seeded = true
		return e.value
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	return e.value
}

// EMA returns the exponential moving average series with smoothing 2/(n+1).
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	e := newEMA(period)
	for i, v := range values {
		out[i] = e.Update(v)
	}
	return out
}
