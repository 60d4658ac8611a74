package strike

import "strings"

// Steps are the strike intervals of the listed index option chains.
var Steps = map[string]int64{
	"NIFTY":      50,
	"BANKNIFTY":  100,
	"FINNIFTY":   50,
	"MIDCPNIFTY": 100,
	"SENSEX":     100,
}

// StepFor returns the configured step, falling back to the known index table.
func StepFor(name string, configured int64) int64 {
	if configured > 0 {
		return configured
	}
	return Steps[strings.ToUpper(name)]
}
