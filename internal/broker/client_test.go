package broker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"atm_algo/internal/models"
	"atm_algo/pkg/retry"
)

const testSecret = "JBSWY3DPEHPK3PXP"

type fakeAngel struct {
	t          *testing.T
	logins     atomic.Int32
	ltpCalls   atomic.Int32
	orderCalls atomic.Int32
	ltpFails   int32 // number of 502s before success
	expireLTP  bool
	dupCandles bool
}

func (f *fakeAngel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pathLogin, func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"clientcode":"C123"`) {
			_, _ = io.WriteString(w, `{"status":false,"message":"Invalid","errorcode":"AB1007","data":null}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":{"jwtToken":"jwt-1","refreshToken":"r-1","feedToken":"f-1"}}`)
	})
	mux.HandleFunc(pathCandles, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer jwt-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.dupCandles {
			_, _ = io.WriteString(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":[
			["2024-11-20T09:15:00+05:30",100,102,99,101,1200],
			["2024-11-20T09:30:00+05:30",101,103,100,102,1500],
			["2024-11-20T09:15:00+05:30",100,102,99,101,1200]]}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":[
			["2024-11-20T09:30:00+05:30",101,103,100,102,1500],
			["2024-11-20T09:15:00+05:30",100,102,99,101,1200]]}`)
	})
	mux.HandleFunc(pathLTP, func(w http.ResponseWriter, r *http.Request) {
		n := f.ltpCalls.Add(1)
		if f.expireLTP {
			_, _ = io.WriteString(w, `{"status":false,"message":"Invalid Token","errorcode":"AG8001","data":null}`)
			return
		}
		if n <= f.ltpFails {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":{"ltp":113.25}}`)
	})
	mux.HandleFunc(pathQuote, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":{"fetched":[
			{"symbolToken":"111","ltp":10,"tradeVolume":5000},
			{"symbolToken":"222","ltp":12,"tradeVolume":4000}],"unfetched":[]}}`)
	})
	mux.HandleFunc(pathOrder, func(w http.ResponseWriter, r *http.Request) {
		f.orderCalls.Add(1)
		if r.Header.Get("X-PrivateKey") != "key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":{"orderid":"ORD-9"}}`)
	})
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server, clientCode string) *Client {
	t.Helper()
	return NewClient(Config{
		APIKey:     "key",
		ClientCode: clientCode,
		Password:   "pw",
		TOTPSecret: testSecret,
		BaseURL:    srv.URL,
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
			Timeout:     time.Second,
		},
	}, zaptest.NewLogger(t))
}

func TestClientLogsInOnceAndFetchesCandles(t *testing.T) {
	fake := &fakeAngel{t: t}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	c := newTestClient(t, srv, "C123")

	inst := models.Instrument{Symbol: "NIFTY", Exchange: "NSE", Token: "99926000"}
	candles, err := c.Candles(context.Background(), inst, "FIFTEEN_MINUTE", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles", len(candles))
	}
	if !candles[0].Time.Before(candles[1].Time) {
		t.Fatal("candles not sorted oldest first")
	}
	if !candles[1].Close.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("last close = %s", candles[1].Close)
	}

	if _, err := c.FetchLTP(context.Background(), inst); err != nil {
		t.Fatalf("FetchLTP: %v", err)
	}
	if got := fake.logins.Load(); got != 1 {
		t.Fatalf("logins = %d, want 1", got)
	}
}

func TestClientRejectsDuplicateCandles(t *testing.T) {
	fake := &fakeAngel{t: t, dupCandles: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	c := newTestClient(t, srv, "C123")

	inst := models.Instrument{Symbol: "NIFTY", Exchange: "NSE", Token: "99926000"}
	_, err := c.Candles(context.Background(), inst, "FIFTEEN_MINUTE", time.Now().Add(-time.Hour), time.Now())
	if err == nil || !strings.Contains(err.Error(), "duplicate candle") {
		t.Fatalf("err = %v, want duplicate candle", err)
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	fake := &fakeAngel{t: t, ltpFails: 2}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	c := newTestClient(t, srv, "C123")

	px, err := c.FetchLTP(context.Background(), models.Instrument{Symbol: "RELIANCE-EQ", Exchange: "NSE", Token: "2885"})
	if err != nil {
		t.Fatalf("FetchLTP: %v", err)
	}
	if !px.Equal(decimal.RequireFromString("113.25")) {
		t.Fatalf("ltp = %s", px)
	}
	if got := fake.ltpCalls.Load(); got != 3 {
		t.Fatalf("ltp calls = %d, want 3", got)
	}
}

func TestClientAuthFailureIsNotRetried(t *testing.T) {
	fake := &fakeAngel{t: t, expireLTP: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	c := newTestClient(t, srv, "C123")

	_, err := c.FetchLTP(context.Background(), models.Instrument{Symbol: "X", Exchange: "NSE", Token: "1"})
	if !errors.Is(err, models.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if got := fake.ltpCalls.Load(); got != 1 {
		t.Fatalf("ltp calls = %d, want 1", got)
	}

	// the expired session is dropped, so the next call logs in again
	_, _ = c.FetchLTP(context.Background(), models.Instrument{Symbol: "X", Exchange: "NSE", Token: "1"})
	if got := fake.logins.Load(); got != 2 {
		t.Fatalf("logins = %d, want 2", got)
	}
}

func TestClientBadCredentials(t *testing.T) {
	fake := &fakeAngel{t: t}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	c := newTestClient(t, srv, "WRONG")

	_, err := c.Login(context.Background())
	if !errors.Is(err, models.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if got := fake.logins.Load(); got != 1 {
		t.Fatalf("logins = %d, want 1", got)
	}
}

func TestClientPlaceOrder(t *testing.T) {
	fake := &fakeAngel{t: t}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	c := newTestClient(t, srv, "C123")

	id, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Instrument: models.Instrument{Symbol: "NIFTY28NOV2423500CE", Exchange: "NFO", Token: "43650"},
		Side:       models.SideBuy,
		Quantity:   75,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != "ORD-9" {
		t.Fatalf("order id = %q", id)
	}

	if _, err := c.PlaceOrder(context.Background(), models.OrderRequest{Side: models.SideHold}); err == nil {
		t.Fatal("expected error for HOLD order")
	}
	if got := fake.orderCalls.Load(); got != 1 {
		t.Fatalf("order calls = %d, want 1", got)
	}
}

func TestClientVolumes(t *testing.T) {
	fake := &fakeAngel{t: t}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	c := newTestClient(t, srv, "C123")

	vols, err := c.Volumes(context.Background(), "NFO", []string{"111", "222"})
	if err != nil {
		t.Fatalf("Volumes: %v", err)
	}
	if !vols["111"].Equal(decimal.NewFromInt(5000)) || !vols["222"].Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("volumes = %v", vols)
	}
}

type stubCache struct{ px decimal.Decimal }

func (s stubCache) LTP(string, time.Duration) (decimal.Decimal, bool) { return s.px, true }

func TestClientPrefersFeedPrice(t *testing.T) {
	fake := &fakeAngel{t: t}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	c := newTestClient(t, srv, "C123")
	c.UseFeed(stubCache{px: decimal.NewFromInt(99)}, time.Second)

	px, err := c.FetchLTP(context.Background(), models.Instrument{Symbol: "X", Exchange: "NSE", Token: "1"})
	if err != nil || !px.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("px = %s err = %v", px, err)
	}
	if fake.ltpCalls.Load() != 0 {
		t.Fatal("REST ltp called while feed had a price")
	}
}

func TestAPIErrorTemporary(t *testing.T) {
	if !(&APIError{Status: 503}).Temporary() || !(&APIError{Status: 429}).Temporary() {
		t.Fatal("5xx and 429 should be temporary")
	}
	if (&APIError{Status: 400}).Temporary() {
		t.Fatal("400 should not be temporary")
	}
}
