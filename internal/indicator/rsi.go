package indicator

import "math"

// RSI uses a simple rolling mean of gains and losses over the last period
// differences (fewer at the start of the series). The first value has no
// difference and is NaN. A zero average loss yields 100.
func RSI(closes []float64, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	out[0] = math.NaN()

	for i := 1; i < len(closes); i++ {
		start := i - period + 1
		if start < 1 {
			start = 1
		}
		var gain, loss float64
		for j := start; j <= i; j++ {
			diff := closes[j] - closes[j-1]
			gain += math.Max(diff, 0)
			loss += math.Max(-diff, 0)
		}
		n := float64(i - start + 1)
		out[i] = rsiValue(gain/n, loss/n)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
