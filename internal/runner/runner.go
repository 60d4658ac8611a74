package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"atm_algo/internal/indicator"
	"atm_algo/internal/metrics"
	"atm_algo/internal/models"
	"atm_algo/internal/modules/config"
	"atm_algo/internal/position"
	"atm_algo/internal/strategy"
	"atm_algo/internal/strike"
	"atm_algo/pkg/tracing"
)

// MarketData is the broker surface the cycle reads from.
type MarketData interface {
	Candles(ctx context.Context, inst models.Instrument, interval string, from, to time.Time) ([]models.Candle, error)
	FetchLTP(ctx context.Context, inst models.Instrument) (decimal.Decimal, error)
	Volumes(ctx context.Context, exchange string, tokens []string) (map[string]decimal.Decimal, error)
	DropSession()
}

// Contracts resolves tokens and option contracts from the instrument master.
type Contracts interface {
	Load(ctx context.Context) error
	LoadedAt() time.Time
	Lookup(exchange, symbol string) (models.Instrument, bool)
	OptionContract(index string, strike decimal.Decimal, typ models.OptionType, now time.Time) (models.Instrument, error)
}

type Notifier interface {
	Send(ctx context.Context, msg string)
}

// Health receives cycle progress for the health endpoints.
type Health interface {
	SetReady(v bool)
	TouchCycle(t time.Time, openPositions int)
}

type Settings struct {
	Interval       time.Duration
	CandleInterval string
	Lookback       time.Duration
	Quantity       int
	OptionsEnabled bool
	Symbols        []config.Symbol
	Indices        []config.Symbol
}

func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		Interval:       cfg.Runner.Interval,
		CandleInterval: cfg.Runner.CandleInterval,
		Lookback:       time.Duration(cfg.Runner.LookbackDays) * 24 * time.Hour,
		Quantity:       cfg.Runner.Quantity,
		OptionsEnabled: cfg.Runner.OptionsEnabled,
		Symbols:        cfg.Runner.Symbols,
		Indices:        cfg.Runner.Indices,
	}
}

// Runner executes the trading cycle: every symbol, then the position poll,
// then the ATM summary.
type Runner struct {
	set        Settings
	market     MarketData
	contracts  Contracts
	indicators *indicator.Engine
	engine     strategy.Engine
	resolver   *strike.Resolver
	positions  *position.Manager
	n          Notifier
	health     Health
	log        *zap.Logger

	now func() time.Time
}

func New(
	set Settings,
	market MarketData,
	contracts Contracts,
	indicators *indicator.Engine,
	engine strategy.Engine,
	resolver *strike.Resolver,
	positions *position.Manager,
	n Notifier,
	health Health,
	log *zap.Logger,
) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if set.Quantity <= 0 {
		set.Quantity = 1
	}
	return &Runner{
		set:        set,
		market:     market,
		contracts:  contracts,
		indicators: indicators,
		engine:     engine,
		resolver:   resolver,
		positions:  positions,
		n:          n,
		health:     health,
		log:        log.Named("runner"),
		now:        time.Now,
	}
}

// Run repeats Cycle every Interval until ctx ends. An aborted cycle does not
// stop the loop: the next cycle starts with a fresh session.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("runner started",
		zap.Int("symbols", len(r.set.Symbols)),
		zap.Int("indices", len(r.set.Indices)),
		zap.Duration("interval", r.set.Interval),
		zap.String("strategy", string(r.engine.Name())),
	)
	for {
		if err := r.Cycle(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("cycle aborted", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.log.Info("runner stopped")
			return
		case <-time.After(r.set.Interval):
		}
	}
}

// Cycle runs one pass. It returns an error only when the cycle was aborted.
func (r *Runner) Cycle(ctx context.Context) error {
	started := r.now()
	ctx = tracing.WithTraceID(ctx, uuid.NewString())
	span, ctx := tracing.StartSpan(ctx, "cycle")
	defer span.Finish()
	log := r.log.With(zap.String("trace_id", tracing.TraceID(ctx)))

	r.refreshContracts(ctx, started)

	for _, sym := range r.set.Symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.processSymbol(ctx, sym)
		if err == nil {
			continue
		}
		if errors.Is(err, models.ErrAuth) {
			ext.LogError(span, err)
			return r.abort(ctx, sym.Name, err)
		}
		cause := skipCause(err)
		metrics.SymbolSkipsTotal.WithLabelValues(cause).Inc()
		log.Warn("symbol skipped",
			zap.String("symbol", sym.Name), zap.String("cause", cause), zap.Error(err))
	}

	closed, err := r.positions.Poll(ctx, r.market)
	if err != nil {
		ext.LogError(span, err)
		return r.abort(ctx, "positions", err)
	}

	if len(r.set.Indices) > 0 {
		msg, err := r.atmSummary(ctx)
		if err != nil {
			ext.LogError(span, err)
			return r.abort(ctx, "atm summary", err)
		}
		r.send(ctx, msg)
	}

	open := r.positions.Store().OpenCount()
	elapsed := r.now().Sub(started)
	metrics.CycleSeconds.Observe(elapsed.Seconds())
	if r.health != nil {
		r.health.SetReady(true)
		r.health.TouchCycle(r.now(), open)
	}
	log.Info("cycle done",
		zap.Int("closed", closed), zap.Int("open", open), zap.Duration("took", elapsed))
	return nil
}

// abort handles a rejected broker session: drop it so the next cycle logs
// in again, and tell the operator.
func (r *Runner) abort(ctx context.Context, where string, err error) error {
	metrics.CycleAbortsTotal.Inc()
	r.market.DropSession()
	if r.health != nil {
		r.health.SetReady(false)
	}
	r.send(ctx, fmt.Sprintf("⛔ cycle aborted at %s: %v", where, err))
	return fmt.Errorf("%s: %w", where, err)
}

// refreshContracts loads the instrument master on the first cycle of each
// day so newly listed expiries become visible. A failed load is retried on
// the next cycle.
func (r *Runner) refreshContracts(ctx context.Context, now time.Time) {
	last := r.contracts.LoadedAt()
	if !last.IsZero() && sameDay(last, now) {
		return
	}
	if err := r.contracts.Load(ctx); err != nil {
		// equities still trade; option lookups fail per symbol
		r.log.Error("instrument master unavailable", zap.Error(err))
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// instrument fills a token missing from the configuration from the
// instrument master.
func (r *Runner) instrument(sym config.Symbol) (models.Instrument, error) {
	inst := models.Instrument{Symbol: sym.Name, Exchange: sym.Exchange, Token: sym.Token}
	if inst.Token != "" {
		return inst, nil
	}
	found, ok := r.contracts.Lookup(sym.Exchange, sym.Name)
	if !ok || found.Token == "" {
		return inst, fmt.Errorf("no token for %s:%s", sym.Exchange, sym.Name)
	}
	inst.Token = found.Token
	return inst, nil
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stage(name string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: name, err: err}
}

func skipCause(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return "other"
}

func (r *Runner) processSymbol(ctx context.Context, sym config.Symbol) error {
	span, ctx := tracing.StartSpan(ctx, "symbol")
	defer span.Finish()
	span.SetTag("symbol", sym.Name)

	inst, err := r.instrument(sym)
	if err != nil {
		return stage("instrument", err)
	}
	to := r.now()
	candles, err := r.market.Candles(ctx, inst, r.set.CandleInterval, to.Add(-r.set.Lookback), to)
	if err != nil {
		return stage("candles", err)
	}
	if len(candles) == 0 {
		return stage("candles", errors.New("empty series"))
	}

	step := strike.StepFor(sym.Name, sym.Step)
	var pcr *float64
	if step > 0 {
		pcr, err = r.pcr(ctx, sym.Name, candles[len(candles)-1].Close, step)
		if errors.Is(err, models.ErrAuth) {
			return err
		}
		if err != nil {
			r.log.Info("pcr unavailable", zap.String("symbol", sym.Name), zap.Error(err))
		}
	}

	snap, ok := r.indicators.Snapshot(sym.Name, candles, pcr)
	if !ok {
		r.log.Info("insufficient data, hold",
			zap.String("symbol", sym.Name),
			zap.Int("candles", len(candles)),
			zap.Int("required", r.indicators.Required()),
		)
		return nil
	}

	sig := r.engine.Evaluate(snap)
	metrics.SignalsTotal.WithLabelValues(sym.Name, string(sig.Side)).Inc()
	r.log.Info("signal",
		zap.String("symbol", sym.Name),
		zap.String("side", string(sig.Side)),
		zap.String("price", sig.Price.String()),
		zap.String("reason", sig.Reason),
	)
	if !sig.Side.Actionable() {
		return nil
	}
	r.send(ctx, fmt.Sprintf("📣 %s %s @ %s | %s", sig.Side, sym.Name, sig.Price, sig.Reason))

	req := position.OpenRequest{
		Instrument: inst,
		Side:       sig.Side,
		Entry:      sig.Price,
		Quantity:   r.set.Quantity,
		Notes:      fmt.Sprintf("%s %s", sig.Strategy, sig.Reason),
	}
	if r.set.OptionsEnabled && step > 0 {
		req, err = r.optionOrder(ctx, sym.Name, sig, step)
		if err != nil {
			return stage("option", err)
		}
	}

	if _, _, err := r.positions.Open(ctx, req); err != nil {
		if errors.Is(err, models.ErrAuth) {
			return err
		}
		return stage("order", err)
	}
	return nil
}

// optionOrder routes an index signal to the ATM option: BUY buys the call,
// SELL buys the put.
func (r *Runner) optionOrder(ctx context.Context, index string, sig models.Signal, step int64) (position.OpenRequest, error) {
	atm, err := r.resolver.Resolve(index, sig.Price, step)
	if err != nil {
		return position.OpenRequest{}, err
	}
	typ := models.OptionCall
	if sig.Side == models.SideSell {
		typ = models.OptionPut
	}
	contract, err := r.contracts.OptionContract(index, atm, typ, r.now())
	if err != nil {
		return position.OpenRequest{}, err
	}
	premium, err := r.market.FetchLTP(ctx, contract)
	if err != nil {
		return position.OpenRequest{}, err
	}
	lots := contract.LotSize
	if lots <= 0 {
		lots = 1
	}
	return position.OpenRequest{
		Instrument: contract,
		Side:       models.SideBuy,
		Entry:      premium,
		Quantity:   lots * r.set.Quantity,
		Notes:      fmt.Sprintf("%s %s on %s spot %s ATM %s", sig.Strategy, sig.Side, index, sig.Price, atm),
	}, nil
}

// pcr is put/call traded volume of the ATM contracts around spot.
func (r *Runner) pcr(ctx context.Context, index string, spot decimal.Decimal, step int64) (*float64, error) {
	atm, err := r.resolver.Resolve(index, spot, step)
	if err != nil {
		return nil, err
	}
	now := r.now()
	ce, err := r.contracts.OptionContract(index, atm, models.OptionCall, now)
	if err != nil {
		return nil, err
	}
	pe, err := r.contracts.OptionContract(index, atm, models.OptionPut, now)
	if err != nil {
		return nil, err
	}
	vols, err := r.market.Volumes(ctx, ce.Exchange, []string{ce.Token, pe.Token})
	if err != nil {
		return nil, err
	}
	return indicator.PCR(vols[pe.Token], vols[ce.Token]), nil
}

// atmSummary reports spot, ATM strike and CE/PE premiums per index.
// Per-index failures become a line in the message; auth failures abort.
func (r *Runner) atmSummary(ctx context.Context) (string, error) {
	span, ctx := tracing.StartSpan(ctx, "atm_summary")
	defer span.Finish()

	var b strings.Builder
	b.WriteString("📊 ATM summary")
	for _, idx := range r.set.Indices {
		line, err := r.summaryLine(ctx, idx)
		if errors.Is(err, models.ErrAuth) {
			return "", err
		}
		if err != nil {
			r.log.Warn("atm summary entry failed", zap.String("symbol", idx.Name), zap.Error(err))
			line = fmt.Sprintf("%s: unavailable", idx.Name)
		}
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String(), nil
}

func (r *Runner) summaryLine(ctx context.Context, idx config.Symbol) (string, error) {
	inst, err := r.instrument(idx)
	if err != nil {
		return "", err
	}
	spot, err := r.market.FetchLTP(ctx, inst)
	if err != nil {
		return "", err
	}
	atm, err := r.resolver.Resolve(idx.Name, spot, strike.StepFor(idx.Name, idx.Step))
	if err != nil {
		return "", err
	}
	now := r.now()
	prices := make([]string, 0, 2)
	for _, typ := range []models.OptionType{models.OptionCall, models.OptionPut} {
		contract, err := r.contracts.OptionContract(idx.Name, atm, typ, now)
		if err != nil {
			return "", err
		}
		px, err := r.market.FetchLTP(ctx, contract)
		if err != nil {
			return "", err
		}
		prices = append(prices, fmt.Sprintf("%s %s", typ, px.StringFixed(2)))
	}
	return fmt.Sprintf("%s spot %s ATM %s | %s", idx.Name, spot.StringFixed(2), atm, strings.Join(prices, " | ")), nil
}

func (r *Runner) send(ctx context.Context, msg string) {
	if r.n != nil {
		r.n.Send(ctx, msg)
	}
}
