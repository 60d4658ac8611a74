package position

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"atm_algo/internal/models"
)

type fakeOrders struct {
	mu    sync.Mutex
	calls []models.OrderRequest
	err   error
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req models.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, req)
	return fmt.Sprintf("ORD-%d", len(f.calls)), nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memSink struct {
	appended []models.Position
	updated  []models.Position
	open     []models.Position
	err      error
}

func (m *memSink) Append(_ context.Context, p models.Position) error {
	if m.err != nil {
		return m.err
	}
	m.appended = append(m.appended, p)
	return nil
}

func (m *memSink) Update(_ context.Context, p models.Position) error {
	m.updated = append(m.updated, p)
	return nil
}

func (m *memSink) LoadOpen(context.Context) ([]models.Position, error) {
	return m.open, m.err
}

type recNotifier struct{ msgs []string }

func (r *recNotifier) Send(_ context.Context, msg string) { r.msgs = append(r.msgs, msg) }

// seqPrices returns the next price of a fixed series on every call.
type seqPrices struct {
	series map[string][]decimal.Decimal
	errs   map[string]error
}

func (s *seqPrices) FetchLTP(_ context.Context, inst models.Instrument) (decimal.Decimal, error) {
	if err := s.errs[inst.Symbol]; err != nil {
		return decimal.Zero, err
	}
	q := s.series[inst.Symbol]
	if len(q) == 0 {
		return decimal.Zero, errors.New("no price")
	}
	px := q[0]
	if len(q) > 1 {
		s.series[inst.Symbol] = q[1:]
	}
	return px, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestManager(orders OrderPlacer, sink Sink, n Notifier) *Manager {
	m := NewManager(NewStore(), orders, sink, n, zap.NewNop(), DefaultConfig())
	m.now = func() time.Time { return time.Date(2024, 11, 20, 9, 30, 0, 0, time.UTC) }
	ids := 0
	m.newID = func() string { ids++; return fmt.Sprintf("pos-%d", ids) }
	return m
}

func inst(symbol string) models.Instrument {
	return models.Instrument{Symbol: symbol, Exchange: "NSE", Token: "1"}
}

func TestOpenComputesLevels(t *testing.T) {
	orders, sink, n := &fakeOrders{}, &memSink{}, &recNotifier{}
	m := newTestManager(orders, sink, n)

	p, opened, err := m.Open(context.Background(), OpenRequest{Instrument: inst("X"), Side: models.SideBuy, Entry: d("113")})
	if err != nil || !opened {
		t.Fatalf("Open: opened=%v err=%v", opened, err)
	}
	if !p.StopLoss.Equal(d("109.61")) || !p.TakeProfit.Equal(d("124.3")) {
		t.Fatalf("levels sl=%s tp=%s", p.StopLoss, p.TakeProfit)
	}
	if p.Status != models.StatusOpen || p.OrderID != "ORD-1" || p.Quantity != 1 {
		t.Fatalf("position = %+v", p)
	}
	if len(sink.appended) != 1 || len(n.msgs) != 1 {
		t.Fatalf("appended=%d notified=%d", len(sink.appended), len(n.msgs))
	}
}

func TestLevelsSell(t *testing.T) {
	m := newTestManager(&fakeOrders{}, nil, nil)
	sl, tp := m.Levels(d("100"), models.SideSell)
	if !sl.Equal(d("103")) || !tp.Equal(d("90")) {
		t.Fatalf("sell sl=%s tp=%s", sl, tp)
	}
	sl, tp = m.Levels(d("123.4567"), models.SideBuy)
	if sl.String() != "119.753" || tp.String() != "135.8024" {
		t.Fatalf("rounding sl=%s tp=%s", sl, tp)
	}
}

func TestDuplicateSignalPlacesNoOrder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	orders := &fakeOrders{}
	m := newTestManager(orders, &memSink{}, nil)
	m.log = zap.New(core)

	req := OpenRequest{Instrument: inst("X"), Side: models.SideBuy, Entry: d("113")}
	if _, opened, _ := m.Open(context.Background(), req); !opened {
		t.Fatal("first open refused")
	}
	_, opened, err := m.Open(context.Background(), req)
	if err != nil || opened {
		t.Fatalf("duplicate: opened=%v err=%v", opened, err)
	}
	if orders.count() != 1 {
		t.Fatalf("orders = %d, want 1", orders.count())
	}
	if logs.FilterMessage("signal skipped by guard").Len() != 1 {
		t.Fatal("skip not logged")
	}
}

func TestOppositeSignalIgnored(t *testing.T) {
	orders := &fakeOrders{}
	m := newTestManager(orders, nil, nil)
	_, _, _ = m.Open(context.Background(), OpenRequest{Instrument: inst("X"), Side: models.SideBuy, Entry: d("100")})

	_, opened, err := m.Open(context.Background(), OpenRequest{Instrument: inst("X"), Side: models.SideSell, Entry: d("100")})
	if err != nil || opened {
		t.Fatalf("opposite: opened=%v err=%v", opened, err)
	}
	if m.Guard().Check("X", models.SideSell) != SkipOpposite {
		t.Fatal("guard should report opposite side")
	}
	if orders.count() != 1 {
		t.Fatalf("orders = %d", orders.count())
	}
}

func TestOpenOrderFailureLeavesNoPosition(t *testing.T) {
	orders := &fakeOrders{err: errors.New("rejected")}
	m := newTestManager(orders, nil, nil)
	_, opened, err := m.Open(context.Background(), OpenRequest{Instrument: inst("X"), Side: models.SideBuy, Entry: d("100")})
	if err == nil || opened {
		t.Fatalf("opened=%v err=%v", opened, err)
	}
	if m.Store().OpenCount() != 0 {
		t.Fatal("position recorded after failed order")
	}
}

func TestOpenRejectsHoldAndBadEntry(t *testing.T) {
	m := newTestManager(&fakeOrders{}, nil, nil)
	if _, _, err := m.Open(context.Background(), OpenRequest{Instrument: inst("X"), Side: models.SideHold, Entry: d("1")}); err == nil {
		t.Fatal("HOLD accepted")
	}
	if _, _, err := m.Open(context.Background(), OpenRequest{Instrument: inst("X"), Side: models.SideBuy, Entry: d("0")}); err == nil {
		t.Fatal("zero entry accepted")
	}
}

func TestSinkFailureKeepsPositionOpen(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	m := newTestManager(&fakeOrders{}, &memSink{err: errors.New("disk full")}, nil)
	m.log = zap.New(core)

	_, opened, err := m.Open(context.Background(), OpenRequest{Instrument: inst("X"), Side: models.SideBuy, Entry: d("100")})
	if err != nil || !opened {
		t.Fatalf("opened=%v err=%v", opened, err)
	}
	if m.Store().OpenCount() != 1 {
		t.Fatal("position not kept in memory")
	}
	if logs.FilterMessage("persist opened position").Len() != 1 {
		t.Fatal("persistence failure not logged")
	}
}

func openAt(t *testing.T, m *Manager, symbol string, side models.Side, entry string) models.Position {
	t.Helper()
	p, opened, err := m.Open(context.Background(), OpenRequest{Instrument: inst(symbol), Side: side, Entry: d(entry)})
	if err != nil || !opened {
		t.Fatalf("open %s: opened=%v err=%v", symbol, opened, err)
	}
	return p
}

func TestPollClosesOnStopLoss(t *testing.T) {
	sink, n := &memSink{}, &recNotifier{}
	m := newTestManager(&fakeOrders{}, sink, n)
	p := openAt(t, m, "X", models.SideBuy, "100")
	if !p.StopLoss.Equal(d("97")) || !p.TakeProfit.Equal(d("110")) {
		t.Fatalf("levels %s/%s", p.StopLoss, p.TakeProfit)
	}

	prices := &seqPrices{series: map[string][]decimal.Decimal{"X": {d("99"), d("98"), d("96")}}}
	for i := 1; i <= 3; i++ {
		closed, err := m.Poll(context.Background(), prices)
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		want := 0
		if i == 3 {
			want = 1
		}
		if closed != want {
			t.Fatalf("poll %d closed %d, want %d", i, closed, want)
		}
	}

	got, _ := m.Store().Get(p.ID)
	if got.Status != models.StatusClosed || got.CloseReason != models.CloseStopLoss || !got.ClosePrice.Equal(d("96")) {
		t.Fatalf("closed position = %+v", got)
	}
	if got.Notes != "Closed by SL" || got.CloseTime.IsZero() {
		t.Fatalf("notes=%q close_time=%v", got.Notes, got.CloseTime)
	}
	if len(sink.updated) != 1 {
		t.Fatalf("updates = %d", len(sink.updated))
	}
	if m.Guard().Check("X", models.SideBuy) != Allow {
		t.Fatal("guard still blocks after close")
	}
	if len(n.msgs) != 2 {
		t.Fatalf("notifications = %v", n.msgs)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	sink := &memSink{}
	m := newTestManager(&fakeOrders{}, sink, nil)
	p := openAt(t, m, "X", models.SideBuy, "100")

	if _, ok := m.Evaluate(context.Background(), p.ID, d("111")); !ok {
		t.Fatal("take profit not hit")
	}
	again, ok := m.Evaluate(context.Background(), p.ID, d("50"))
	if ok {
		t.Fatal("closed position closed twice")
	}
	if again.CloseReason != models.CloseTakeProfit || !again.ClosePrice.Equal(d("111")) {
		t.Fatalf("closed record changed: %+v", again)
	}
	if len(sink.updated) != 1 {
		t.Fatalf("updates = %d", len(sink.updated))
	}
	if _, ok := m.Evaluate(context.Background(), "missing", d("1")); ok {
		t.Fatal("unknown id evaluated")
	}
}

func TestSellPositionDirection(t *testing.T) {
	m := newTestManager(&fakeOrders{}, nil, nil)
	p := openAt(t, m, "Y", models.SideSell, "100")

	if _, ok := m.Evaluate(context.Background(), p.ID, d("102")); ok {
		t.Fatal("closed inside band")
	}
	closed, ok := m.Evaluate(context.Background(), p.ID, d("103"))
	if !ok || closed.CloseReason != models.CloseStopLoss {
		t.Fatalf("sell stop: ok=%v %+v", ok, closed)
	}

	q := openAt(t, m, "Z", models.SideSell, "100")
	closed, ok = m.Evaluate(context.Background(), q.ID, d("90"))
	if !ok || closed.CloseReason != models.CloseTakeProfit {
		t.Fatalf("sell target: ok=%v %+v", ok, closed)
	}
}

func TestPollIsolatesPriceFailures(t *testing.T) {
	m := newTestManager(&fakeOrders{}, nil, nil)
	openAt(t, m, "A", models.SideBuy, "100")
	openAt(t, m, "B", models.SideBuy, "100")

	prices := &seqPrices{
		series: map[string][]decimal.Decimal{"B": {d("120")}},
		errs:   map[string]error{"A": errors.New("timeout")},
	}
	closed, err := m.Poll(context.Background(), prices)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if closed != 1 || m.Store().OpenCount() != 1 {
		t.Fatalf("closed=%d open=%d", closed, m.Store().OpenCount())
	}
}

func TestPollStopsOnAuthFailure(t *testing.T) {
	m := newTestManager(&fakeOrders{}, nil, nil)
	openAt(t, m, "A", models.SideBuy, "100")
	prices := &seqPrices{errs: map[string]error{"A": fmt.Errorf("ltp: %w", models.ErrAuth)}}
	if _, err := m.Poll(context.Background(), prices); !errors.Is(err, models.ErrAuth) {
		t.Fatalf("err = %v", err)
	}
}

func TestHydrateRestoresGuard(t *testing.T) {
	sink := &memSink{open: []models.Position{
		{ID: "a", Symbol: "X", Side: models.SideBuy, Status: models.StatusOpen, EntryPrice: d("100")},
		{ID: "b", Symbol: "X", Side: models.SideBuy, Status: models.StatusOpen, EntryPrice: d("101")},
		{ID: "c", Symbol: "Y", Side: models.SideSell, Status: models.StatusOpen, EntryPrice: d("50")},
	}}
	orders := &fakeOrders{}
	m := newTestManager(orders, sink, nil)

	n, err := m.Hydrate(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Hydrate: n=%d err=%v", n, err)
	}
	if _, opened, _ := m.Open(context.Background(), OpenRequest{Instrument: inst("X"), Side: models.SideBuy, Entry: d("100")}); opened {
		t.Fatal("restored position did not block duplicate")
	}
	if orders.count() != 0 {
		t.Fatal("order placed for restored symbol")
	}
}

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	j, err := NewJournal(path)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	m := newTestManager(&fakeOrders{}, j, nil)
	p := openAt(t, m, "X", models.SideBuy, "100")
	openAt(t, m, "Y", models.SideBuy, "50")
	if _, ok := m.Evaluate(context.Background(), p.ID, d("96")); !ok {
		t.Fatal("stop not hit")
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j2, err := NewJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()
	open, err := j2.LoadOpen(context.Background())
	if err != nil {
		t.Fatalf("LoadOpen: %v", err)
	}
	if len(open) != 1 || open[0].Symbol != "Y" || !open[0].StopLoss.Equal(d("48.5")) {
		t.Fatalf("open = %+v", open)
	}
}
