package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type StrategyType string

const (
	StrategyFusion   StrategyType = "fusion"
	StrategyBreakout StrategyType = "breakout"
)

// Side BUY/SELL/HOLD. HOLD never reaches the position manager.
type Side string

const (
	SideHold Side = "HOLD"
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Actionable reports whether the side asks for an order.
func (s Side) Actionable() bool { return s == SideBuy || s == SideSell }

// ParseSide accepts BUY/SELL/HOLD in any case.
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	case SideHold:
		return SideHold, nil
	}
	return "", fmt.Errorf("unknown side %q", raw)
}

// Signal is produced fresh every cycle and is only logged and sent, never stored.
type Signal struct {
	Symbol   string
	Side     Side
	Price    decimal.Decimal // close of the candle the decision was taken on
	Strategy StrategyType
	Reason   string
}

func Hold(symbol, reason string) Signal {
	return Signal{Symbol: symbol, Side: SideHold, Reason: reason}
}
