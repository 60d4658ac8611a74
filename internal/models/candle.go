package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar. Sequences are ordered by Time with no duplicates.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// ValidateCandles checks ordering at the I/O boundary so indicators can assume it.
func ValidateCandles(cs []Candle) error {
	for i := 1; i < len(cs); i++ {
		if cs[i].Time.Equal(cs[i-1].Time) {
			return fmt.Errorf("duplicate candle at %s", cs[i].Time.Format(time.RFC3339))
		}
		if cs[i].Time.Before(cs[i-1].Time) {
			return fmt.Errorf("candle %s out of order", cs[i].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Closes extracts close prices as float64 for indicator math.
func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}

// Instrument identifies a tradable symbol at the broker.
type Instrument struct {
	Symbol   string // trading symbol, e.g. NIFTY or NIFTY28NOV2423500CE
	Token    string
	Exchange string // NSE, NFO, BSE, MCX
	Name     string // underlying name for derivatives
	Expiry   time.Time
	Strike   decimal.Decimal
	LotSize  int
}

// OptionType CE/PE.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)
