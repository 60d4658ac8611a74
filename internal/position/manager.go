package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"atm_algo/internal/metrics"
	"atm_algo/internal/models"
)

var hundred = decimal.NewFromInt(100)

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error)
}

type PriceSource interface {
	FetchLTP(ctx context.Context, inst models.Instrument) (decimal.Decimal, error)
}

// Sink persists trade records. Append is called once on open, Update once on close.
type Sink interface {
	Append(ctx context.Context, p models.Position) error
	Update(ctx context.Context, p models.Position) error
	LoadOpen(ctx context.Context) ([]models.Position, error)
}

// Notifier is fire-and-forget; it must not fail trading logic.
type Notifier interface {
	Send(ctx context.Context, msg string)
}

// Config holds stop-loss and take-profit distances in percent of entry.
type Config struct {
	StopPct       decimal.Decimal
	TakeProfitPct decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		StopPct:       decimal.NewFromInt(3),
		TakeProfitPct: decimal.NewFromInt(10),
	}
}

// OpenRequest is a signal that passed strategy evaluation and should become a position.
type OpenRequest struct {
	Instrument models.Instrument
	Side       models.Side
	Entry      decimal.Decimal
	Quantity   int
	Notes      string
}

// Manager drives Position through OPEN -> CLOSED.
type Manager struct {
	store  *Store
	guard  *Guard
	orders OrderPlacer
	sink   Sink
	n      Notifier
	log    *zap.Logger
	cfg    Config

	now   func() time.Time
	newID func() string
}

func NewManager(store *Store, orders OrderPlacer, sink Sink, n Notifier, log *zap.Logger, cfg Config) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StopPct.Sign() <= 0 || cfg.TakeProfitPct.Sign() <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		store:  store,
		guard:  NewGuard(store),
		orders: orders,
		sink:   sink,
		n:      n,
		log:    log.Named("position"),
		cfg:    cfg,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

func (m *Manager) Store() *Store { return m.store }
func (m *Manager) Guard() *Guard { return m.guard }

// Levels returns stop-loss and take-profit for an entry, rounded to 4 dp.
//
//	BUY:  sl = entry*(1-stop), tp = entry*(1+take)
//	SELL: sl = entry*(1+stop), tp = entry*(1-take)
func (m *Manager) Levels(entry decimal.Decimal, side models.Side) (sl, tp decimal.Decimal) {
	stop := m.cfg.StopPct.Div(hundred)
	take := m.cfg.TakeProfitPct.Div(hundred)
	if side == models.SideSell {
		return entry.Mul(decimal.NewFromInt(1).Add(stop)).Round(4),
			entry.Mul(decimal.NewFromInt(1).Sub(take)).Round(4)
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(stop)).Round(4),
		entry.Mul(decimal.NewFromInt(1).Add(take)).Round(4)
}

// Open places an order and records a new OPEN position. A request the guard
// rejects returns opened=false and no error: nothing is sent to the broker.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (models.Position, bool, error) {
	symbol := req.Instrument.Symbol
	if !req.Side.Actionable() {
		return models.Position{}, false, fmt.Errorf("%s: cannot open on %s", symbol, req.Side)
	}
	if req.Entry.Sign() <= 0 {
		return models.Position{}, false, fmt.Errorf("%s: invalid entry price %s", symbol, req.Entry)
	}

	if d := m.guard.Check(symbol, req.Side); d != Allow {
		metrics.GuardSkipsTotal.WithLabelValues(d.String()).Inc()
		m.log.Info("signal skipped by guard",
			zap.String("symbol", symbol),
			zap.String("side", string(req.Side)),
			zap.String("cause", d.String()),
		)
		return models.Position{}, false, nil
	}

	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	orderID, err := m.orders.PlaceOrder(ctx, models.OrderRequest{
		Instrument: req.Instrument,
		Side:       req.Side,
		Quantity:   qty,
	})
	if err != nil {
		return models.Position{}, false, fmt.Errorf("place order %s %s: %w", req.Side, symbol, err)
	}
	metrics.OrdersTotal.WithLabelValues(symbol, string(req.Side)).Inc()

	sl, tp := m.Levels(req.Entry, req.Side)
	p := models.Position{
		ID:         m.newID(),
		Symbol:     symbol,
		Exchange:   req.Instrument.Exchange,
		Token:      req.Instrument.Token,
		Side:       req.Side,
		Quantity:   qty,
		EntryPrice: req.Entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Status:     models.StatusOpen,
		OpenTime:   m.now().UTC(),
		OrderID:    orderID,
		Notes:      req.Notes,
	}
	if !m.store.Add(p) {
		// only reachable if another caller opened the symbol between Check and Add
		m.log.Error("order placed but position already open",
			zap.String("symbol", symbol), zap.String("order_id", orderID))
		return models.Position{}, false, fmt.Errorf("%s: %w", symbol, ErrDuplicate)
	}
	metrics.OpenPositions.Set(float64(m.store.OpenCount()))

	if m.sink != nil {
		if err := m.sink.Append(ctx, p); err != nil {
			m.log.Error("persist opened position", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	m.log.Info("position opened",
		zap.String("id", p.ID),
		zap.String("symbol", symbol),
		zap.String("side", string(p.Side)),
		zap.String("entry", p.EntryPrice.String()),
		zap.String("sl", p.StopLoss.String()),
		zap.String("tp", p.TakeProfit.String()),
	)
	m.notify(ctx, fmt.Sprintf("✅ OPEN %s %s @ %s SL=%s TP=%s", p.Side, symbol, p.EntryPrice, p.StopLoss, p.TakeProfit))
	return p, true, nil
}

// ErrDuplicate is returned when the store refuses a second OPEN position for a symbol.
var ErrDuplicate = errors.New("position already open")

// closeReason decides whether price crosses the stop or target.
func closeReason(p models.Position, price decimal.Decimal) models.CloseReason {
	switch p.Side {
	case models.SideBuy:
		if price.LessThanOrEqual(p.StopLoss) {
			return models.CloseStopLoss
		}
		if price.GreaterThanOrEqual(p.TakeProfit) {
			return models.CloseTakeProfit
		}
	case models.SideSell:
		if price.GreaterThanOrEqual(p.StopLoss) {
			return models.CloseStopLoss
		}
		if price.LessThanOrEqual(p.TakeProfit) {
			return models.CloseTakeProfit
		}
	}
	return models.CloseNone
}

// Evaluate compares a live price with the position's levels and closes it on
// a cross. Closed or unknown positions are left untouched.
func (m *Manager) Evaluate(ctx context.Context, id string, price decimal.Decimal) (models.Position, bool) {
	current, ok := m.store.Get(id)
	if !ok || !current.IsOpen() {
		return current, false
	}
	reason := closeReason(current, price)
	if reason == models.CloseNone {
		return current, false
	}

	closed, ok := m.store.close(id, func(p *models.Position) {
		p.CloseTime = m.now().UTC()
		p.ClosePrice = price
		p.CloseReason = reason
		p.Notes = "Closed by " + string(reason)
	})
	if !ok {
		return current, false
	}
	metrics.PositionsClosedTotal.WithLabelValues(string(reason)).Inc()
	metrics.OpenPositions.Set(float64(m.store.OpenCount()))

	if m.sink != nil {
		if err := m.sink.Update(ctx, closed); err != nil {
			m.log.Error("persist closed position", zap.String("symbol", closed.Symbol), zap.Error(err))
		}
	}
	m.log.Info("position closed",
		zap.String("id", closed.ID),
		zap.String("symbol", closed.Symbol),
		zap.String("reason", string(reason)),
		zap.String("price", price.String()),
	)
	m.notify(ctx, fmt.Sprintf("🔒 %s %s at %s (entry %s)", closed.Symbol, reason, price, closed.EntryPrice))
	return closed, true
}

// Poll fetches a live price for every OPEN position and evaluates it. A price
// failure skips that position for this cycle; an auth failure stops the poll.
func (m *Manager) Poll(ctx context.Context, prices PriceSource) (int, error) {
	closed := 0
	for _, p := range m.store.Open() {
		price, err := prices.FetchLTP(ctx, p.Instrument())
		if err != nil {
			if errors.Is(err, models.ErrAuth) {
				return closed, err
			}
			metrics.SymbolSkipsTotal.WithLabelValues("ltp").Inc()
			m.log.Warn("live price unavailable",
				zap.String("symbol", p.Symbol), zap.String("cause", "ltp"), zap.Error(err))
			continue
		}
		if _, ok := m.Evaluate(ctx, p.ID, price); ok {
			closed++
		}
	}
	return closed, nil
}

// Hydrate loads OPEN positions from the sink so the guard survives restarts.
func (m *Manager) Hydrate(ctx context.Context) (int, error) {
	if m.sink == nil {
		return 0, nil
	}
	open, err := m.sink.LoadOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open positions: %w", err)
	}
	n := 0
	for _, p := range open {
		if m.store.Add(p) {
			n++
			continue
		}
		m.log.Warn("skipping second open position for symbol",
			zap.String("symbol", p.Symbol), zap.String("id", p.ID))
	}
	metrics.OpenPositions.Set(float64(m.store.OpenCount()))
	return n, nil
}

func (m *Manager) notify(ctx context.Context, msg string) {
	if m.n == nil {
		return
	}
	m.n.Send(ctx, msg)
}
