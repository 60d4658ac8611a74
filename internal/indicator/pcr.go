package indicator

import "github.com/shopspring/decimal"

// PCR is put volume over call volume, nil when call volume is zero.
func PCR(putVolume, callVolume decimal.Decimal) *float64 {
	if callVolume.Sign() <= 0 {
		return nil
	}
	v := putVolume.Div(callVolume).InexactFloat64()
	return &v
}
