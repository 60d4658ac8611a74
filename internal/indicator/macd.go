package indicator

// MACD returns EMA(fast) - EMA(slow) and its EMA(signal) line.
func MACD(closes []float64, fast, slow, signal int) (macd, sig []float64) {
	f := EMA(closes, fast)
	s := EMA(closes, slow)
	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = f[i] - s[i]
	}
	return macd, EMA(macd, signal)
}
