package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

type CloseReason string

const (
	CloseNone       CloseReason = ""
	CloseStopLoss   CloseReason = "SL"
	CloseTakeProfit CloseReason = "TP"
)

// Position is one trade from open to close. Immutable once CLOSED.
type Position struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Exchange    string          `json:"exchange,omitempty"`
	Token       string          `json:"token,omitempty"`
	Side        Side            `json:"side"`
	Quantity    int             `json:"quantity"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	Status      PositionStatus  `json:"status"`
	OpenTime    time.Time       `json:"open_time"`
	CloseTime   time.Time       `json:"close_time,omitempty"`
	ClosePrice  decimal.Decimal `json:"close_price"`
	CloseReason CloseReason     `json:"close_reason,omitempty"`
	OrderID     string          `json:"order_id,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

func (p *Position) IsOpen() bool { return p.Status == StatusOpen }

// Instrument rebuilds the broker identity of the traded symbol.
func (p *Position) Instrument() Instrument {
	return Instrument{Symbol: p.Symbol, Exchange: p.Exchange, Token: p.Token}
}
