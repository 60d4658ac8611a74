package indicator

import (
	"math"

	"atm_algo/internal/models"
)

// Config holds indicator windows.
type Config struct {
	RSIPeriod  int
	EMAPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	SMAShort   int
	SMALong    int
}

func DefaultConfig() Config {
	return Config{
		RSIPeriod:  14,
		EMAPeriod:  20,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		SMAShort:   5,
		SMALong:    20,
	}
}

// Engine turns a candle series into an IndicatorSnapshot.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.EMAPeriod <= 0 {
		cfg.EMAPeriod = def.EMAPeriod
	}
	if cfg.MACDFast <= 0 {
		cfg.MACDFast = def.MACDFast
	}
	if cfg.MACDSlow <= 0 {
		cfg.MACDSlow = def.MACDSlow
	}
	if cfg.MACDSignal <= 0 {
		cfg.MACDSignal = def.MACDSignal
	}
	if cfg.SMAShort <= 0 {
		cfg.SMAShort = def.SMAShort
	}
	if cfg.SMALong <= 0 {
		cfg.SMALong = def.SMALong
	}
	return &Engine{cfg: cfg}
}

// Required is the largest window any indicator needs: RSI needs period+1
// closes to have period differences.
func (e *Engine) Required() int {
	n := e.cfg.RSIPeriod + 1
	for _, w := range []int{e.cfg.EMAPeriod, e.cfg.MACDSlow, e.cfg.SMALong} {
		if w > n {
			n = w
		}
	}
	return n
}

// Snapshot computes indicators for the last candle. ok is false when the
// series is shorter than Required; callers treat that as HOLD.
func (e *Engine) Snapshot(symbol string, cs []models.Candle, pcr *float64) (models.IndicatorSnapshot, bool) {
	snap := models.IndicatorSnapshot{Symbol: symbol, PCR: pcr}
	if len(cs) < e.Required() {
		return snap, false
	}
	closes := models.Closes(cs)
	last := len(closes) - 1

	macd, sig := MACD(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)

	snap.Time = cs[last].Time
	snap.Close = closes[last]
	snap.RSI = RSI(closes, e.cfg.RSIPeriod)[last]
	snap.EMA = EMA(closes, e.cfg.EMAPeriod)[last]
	snap.MACD = macd[last]
	snap.MACDSignal = sig[last]
	snap.SMAShort = SMA(closes, e.cfg.SMAShort)[last]
	snap.SMALong = SMA(closes, e.cfg.SMALong)[last]
	snap.VWAP = VWAP(cs)
	snap.PrevHigh = cs[last-1].High.InexactFloat64()
	snap.PrevLow = cs[last-1].Low.InexactFloat64()

	if pcr != nil && (math.IsNaN(*pcr) || math.IsInf(*pcr, 0)) {
		snap.PCR = nil
	}
	return snap, true
}
