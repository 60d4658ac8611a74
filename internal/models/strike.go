package models

import "github.com/shopspring/decimal"

// StrikeState is the last resolved strike for a key (usually the index name).
type StrikeState struct {
	Key        string
	LastStrike decimal.Decimal
}
