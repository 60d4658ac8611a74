package models

import "errors"

// ErrAuth marks a rejected or expired broker session. It is fatal for the
// current cycle and never retried.
var ErrAuth = errors.New("broker session rejected")

// OrderRequest is a market order for one instrument.
type OrderRequest struct {
	Instrument Instrument
	Side       Side
	Quantity   int
}
