package broker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	feedModeLTP  = 1
	ltpPacketLen = 51
	pingEvery    = 30 * time.Second
)

// segment codes of the streaming API
var exchangeTypes = map[string]int{
	"NSE": 1,
	"NFO": 2,
	"BSE": 3,
	"BFO": 4,
	"MCX": 5,
}

// Tick is one decoded LTP packet.
type Tick struct {
	Mode         int
	ExchangeType int
	Token        string
	Sequence     int64
	ExchangeTime time.Time
	LTP          decimal.Decimal
}

// ParseLTPPacket decodes a little-endian LTP mode packet. Prices arrive in paise.
func ParseLTPPacket(b []byte) (Tick, error) {
	if len(b) < ltpPacketLen {
		return Tick{}, fmt.Errorf("ltp packet: %d bytes, want %d", len(b), ltpPacketLen)
	}
	token := b[2:27]
	if i := bytes.IndexByte(token, 0); i >= 0 {
		token = token[:i]
	}
	seq := int64(binary.LittleEndian.Uint64(b[27:35]))
	ts := int64(binary.LittleEndian.Uint64(b[35:43]))
	paise := int64(binary.LittleEndian.Uint64(b[43:51]))
	return Tick{
		Mode:         int(b[0]),
		ExchangeType: int(b[1]),
		Token:        string(token),
		Sequence:     seq,
		ExchangeTime: time.UnixMilli(ts).UTC(),
		LTP:          decimal.New(paise, -2),
	}, nil
}

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// SessionSource hands out the current broker session for feed authentication.
type SessionSource interface {
	Session(ctx context.Context) (*Session, error)
}

// Feed keeps a websocket LTP subscription alive and caches the latest price
// per token.
type Feed struct {
	url        string
	apiKey     string
	clientCode string
	dialer     *websocket.Dialer
	log        *zap.Logger
	now        func() time.Time

	mu     sync.RWMutex
	prices map[string]cachedPrice
	tokens map[string][]string // exchange segment -> tokens

	connected atomic.Bool
}

func NewFeed(url, apiKey, clientCode string, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		url:        url,
		apiKey:     apiKey,
		clientCode: clientCode,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:        log.Named("feed"),
		now:        time.Now,
		prices:     make(map[string]cachedPrice),
		tokens:     make(map[string][]string),
	}
}

// Subscribe adds tokens of one exchange segment. Takes effect on the next
// (re)connect.
func (f *Feed) Subscribe(exchange string, tokens ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool, len(f.tokens[exchange]))
	for _, t := range f.tokens[exchange] {
		seen[t] = true
	}
	for _, t := range tokens {
		if t != "" && !seen[t] {
			f.tokens[exchange] = append(f.tokens[exchange], t)
			seen[t] = true
		}
	}
}

// LTP returns the cached price for token if it is younger than maxAge.
func (f *Feed) LTP(token string, maxAge time.Duration) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[token]
	if !ok || f.now().Sub(p.at) > maxAge {
		return decimal.Zero, false
	}
	return p.price, true
}

func (f *Feed) Connected() bool { return f.connected.Load() }

func (f *Feed) store(t Tick) {
	f.mu.Lock()
	f.prices[t.Token] = cachedPrice{price: t.LTP, at: f.now()}
	f.mu.Unlock()
}

// Run connects, subscribes and reads until ctx ends, reconnecting on errors.
func (f *Feed) Run(ctx context.Context, sessions SessionSource) {
	var wait time.Duration
	for {
		err := f.runOnce(ctx, sessions)
		wasUp := f.connected.Swap(false)
		if ctx.Err() != nil {
			return
		}
		wait = nextRetry(wait, wasUp)
		f.log.Warn("feed disconnected", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

const (
	feedRetryMin = time.Second
	feedRetryMax = 30 * time.Second
)

// nextRetry doubles the reconnect delay up to feedRetryMax. A session that
// got as far as subscribing starts over from feedRetryMin.
func nextRetry(prev time.Duration, connected bool) time.Duration {
	if connected || prev <= 0 {
		return feedRetryMin
	}
	if next := prev * 2; next < feedRetryMax {
		return next
	}
	return feedRetryMax
}

func (f *Feed) subscribeFrame() ([]byte, int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	type tokenList struct {
		ExchangeType int      `json:"exchangeType"`
		Tokens       []string `json:"tokens"`
	}
	var lists []tokenList
	n := 0
	for exch, toks := range f.tokens {
		code, ok := exchangeTypes[exch]
		if !ok || len(toks) == 0 {
			continue
		}
		lists = append(lists, tokenList{ExchangeType: code, Tokens: append([]string(nil), toks...)})
		n += len(toks)
	}
	frame, _ := sonic.Marshal(map[string]any{
		"correlationID": "atmalgo",
		"action":        1,
		"params": map[string]any{
			"mode":      feedModeLTP,
			"tokenList": lists,
		},
	})
	return frame, n
}

func (f *Feed) runOnce(ctx context.Context, sessions SessionSource) error {
	s, err := sessions.Session(ctx)
	if err != nil {
		return fmt.Errorf("feed session: %w", err)
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+s.JWT)
	hdr.Set("x-api-key", f.apiKey)
	hdr.Set("x-client-code", f.clientCode)
	hdr.Set("x-feed-token", s.Feed)

	conn, _, err := f.dialer.DialContext(ctx, f.url, hdr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	frame, n := f.subscribeFrame()
	if n > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	f.connected.Store(true)
	f.log.Info("feed connected", zap.Int("tokens", n))

	stop := make(chan struct{})
	defer close(stop)
	var wmu sync.Mutex
	go func() {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				wmu.Lock()
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				wmu.Unlock()
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				wmu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if mt != websocket.BinaryMessage {
			continue // pong or error text
		}
		tick, err := ParseLTPPacket(msg)
		if err != nil {
			f.log.Debug("bad packet", zap.Error(err))
			continue
		}
		f.store(tick)
	}
}
