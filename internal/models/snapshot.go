package models

import (
	"math"
	"time"
)

// IndicatorSnapshot holds indicator values for the latest candle of one symbol.
// PCR is nil when call volume is zero or unknown.
type IndicatorSnapshot struct {
	Symbol     string
	Time       time.Time
	Close      float64
	RSI        float64
	EMA        float64
	MACD       float64
	MACDSignal float64
	SMAShort   float64
	SMALong    float64
	VWAP       float64
	PCR        *float64

	// previous candle range, used by the breakout engine
	PrevHigh float64
	PrevLow  float64
}

// Complete reports whether every field the fused rule reads is a finite number.
func (s IndicatorSnapshot) Complete() bool {
	for _, v := range []float64{s.RSI, s.MACD, s.MACDSignal, s.SMAShort, s.SMALong} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
