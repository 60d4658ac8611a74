package indicator

// SMA is a rolling mean with min-periods 1: the first period-1 values are
// averaged over the partial window.
func SMA(values []float64, period int) []float64 {
	if period <= 0 {
		period = 1
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		n := i + 1
		if i >= period {
			sum -= values[i-period]
			n = period
		}
		out[i] = sum / float64(n)
	}
	return out
}
