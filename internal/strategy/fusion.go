package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"atm_algo/internal/models"
)

// Thresholds for the fused rule.
type Thresholds struct {
	RSIBuy     float64 // BUY needs RSI above
	RSISell    float64 // SELL needs RSI below
	PCRBuyMax  float64 // BUY needs PCR below (when known)
	PCRSellMin float64 // SELL needs PCR above (when known)
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIBuy:     60,
		RSISell:    40,
		PCRBuyMax:  0.75,
		PCRSellMin: 1.10,
	}
}

// Fusion combines SMA crossover, MACD vs signal, RSI and PCR.
//
//	BUY:  SMA_short > SMA_long && MACD > signal && RSI > RSIBuy  && (PCR nil || PCR < PCRBuyMax)
//	SELL: SMA_short < SMA_long && MACD < signal && RSI < RSISell && (PCR nil || PCR > PCRSellMin)
//
// Anything else, including a snapshot with NaN inputs, is HOLD.
type Fusion struct {
	th Thresholds
}

func NewFusion(th Thresholds) *Fusion {
	return &Fusion{th: th}
}

func (f *Fusion) Name() models.StrategyType { return models.StrategyFusion }

func (f *Fusion) Evaluate(s models.IndicatorSnapshot) models.Signal {
	if !s.Complete() {
		return models.Hold(s.Symbol, "incomplete indicators")
	}

	side := models.SideHold
	switch {
	case s.SMAShort > s.SMALong && s.MACD > s.MACDSignal && s.RSI > f.th.RSIBuy &&
		(s.PCR == nil || *s.PCR < f.th.PCRBuyMax):
		side = models.SideBuy
	case s.SMAShort < s.SMALong && s.MACD < s.MACDSignal && s.RSI < f.th.RSISell &&
		(s.PCR == nil || *s.PCR > f.th.PCRSellMin):
		side = models.SideSell
	}

	return models.Signal{
		Symbol:   s.Symbol,
		Side:     side,
		Price:    decimal.NewFromFloat(s.Close),
		Strategy: models.StrategyFusion,
		Reason:   describe(s),
	}
}

func describe(s models.IndicatorSnapshot) string {
	pcr := "n/a"
	if s.PCR != nil {
		pcr = fmt.Sprintf("%.2f", *s.PCR)
	}
	return fmt.Sprintf("SMA %.2f/%.2f MACD %.4f/%.4f RSI %.2f PCR %s",
		s.SMAShort, s.SMALong, s.MACD, s.MACDSignal, s.RSI, pcr)
}
