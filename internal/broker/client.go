package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"atm_algo/internal/models"
	"atm_algo/pkg/retry"
)

const (
	pathLogin   = "/rest/auth/angelbroking/user/v1/loginByPassword"
	pathCandles = "/rest/secure/angelbroking/historical/v1/getCandleData"
	pathLTP     = "/rest/secure/angelbroking/order/v1/getLtpData"
	pathQuote   = "/rest/secure/angelbroking/market/v1/quote"
	pathOrder   = "/rest/secure/angelbroking/order/v1/placeOrder"

	candleTimeLayout = "2006-01-02 15:04"
)

// session-level error codes returned by SmartAPI
var authCodes = map[string]bool{
	"AG8001": true, // invalid token
	"AG8002": true, // token expired
	"AG8003": true, // token missing
	"AB1010": true, // session expired
	"AB1007": true, // invalid client credentials
	"AB1050": true, // invalid totp
}

type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
	BaseURL    string
	LocalIP    string
	PublicIP   string
	MAC        string
	Retry      retry.Policy
}

// Session holds the tokens issued by a successful login.
type Session struct {
	JWT      string
	Refresh  string
	Feed     string
	IssuedAt time.Time
}

// PriceCache is a source of streamed last traded prices.
type PriceCache interface {
	LTP(token string, maxAge time.Duration) (decimal.Decimal, bool)
}

// APIError is a non-auth failure reported by the broker.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker http %d code=%s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("broker http %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type header struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
}

type envelope[T any] struct {
	header
	Data T `json:"data"`
}

// Client talks to the SmartAPI REST endpoints with one lazily created session.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
	now  func() time.Time

	mu      sync.Mutex
	session *Session

	feed       PriceCache
	feedMaxAge time.Duration
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		http:       &http.Client{},
		log:        log.Named("broker"),
		now:        time.Now,
		feedMaxAge: time.Minute,
	}
}

// UseFeed makes FetchLTP prefer fresh streamed prices over REST calls.
func (c *Client) UseFeed(feed PriceCache, maxAge time.Duration) {
	c.feed = feed
	if maxAge > 0 {
		c.feedMaxAge = maxAge
	}
}

// Login performs a password + TOTP login and stores the session.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
	if err != nil {
		return nil, errors.Wrap(models.ErrAuth, "generate totp: "+err.Error())
	}
	body := map[string]string{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	}
	var out envelope[struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}]
	if err := c.call(ctx, pathLogin, "", body, &out); err != nil {
		return nil, errors.Wrap(err, "login")
	}
	if out.Data.JWTToken == "" {
		return nil, errors.Wrap(models.ErrAuth, "login returned no token")
	}

	s := &Session{
		JWT:      out.Data.JWTToken,
		Refresh:  out.Data.RefreshToken,
		Feed:     out.Data.FeedToken,
		IssuedAt: c.now(),
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.log.Info("broker session established", zap.String("client", c.cfg.ClientCode))
	return s, nil
}

// Session returns the current session, logging in if there is none.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != nil {
		return s, nil
	}
	return c.Login(ctx)
}

// DropSession forgets the current session so the next call logs in again.
func (c *Client) DropSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// Candles returns OHLCV candles for inst between from and to, oldest first.
func (c *Client) Candles(ctx context.Context, inst models.Instrument, interval string, from, to time.Time) ([]models.Candle, error) {
	body := map[string]string{
		"exchange":    inst.Exchange,
		"symboltoken": inst.Token,
		"interval":    interval,
		"fromdate":    from.Format(candleTimeLayout),
		"todate":      to.Format(candleTimeLayout),
	}
	var out envelope[[][]any]
	if err := c.authed(ctx, pathCandles, body, &out); err != nil {
		return nil, errors.Wrapf(err, "candles %s", inst.Symbol)
	}

	candles := make([]models.Candle, 0, len(out.Data))
	for i, row := range out.Data {
		cd, err := parseCandleRow(row)
		if err != nil {
			return nil, errors.Wrapf(err, "candles %s row %d", inst.Symbol, i)
		}
		candles = append(candles, cd)
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	if err := models.ValidateCandles(candles); err != nil {
		return nil, errors.Wrapf(err, "candles %s", inst.Symbol)
	}
	return candles, nil
}

func parseCandleRow(row []any) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("want 6 fields, got %d", len(row))
	}
	raw, ok := row[0].(string)
	if !ok {
		return models.Candle{}, fmt.Errorf("timestamp is %T", row[0])
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return models.Candle{}, err
	}
	var vals [5]decimal.Decimal
	for k := 0; k < 5; k++ {
		f, ok := row[k+1].(float64)
		if !ok {
			return models.Candle{}, fmt.Errorf("field %d is %T", k+1, row[k+1])
		}
		vals[k] = decimal.NewFromFloat(f)
	}
	return models.Candle{
		Time:   ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

// FetchLTP returns the last traded price of inst, from the feed when fresh.
func (c *Client) FetchLTP(ctx context.Context, inst models.Instrument) (decimal.Decimal, error) {
	if c.feed != nil && inst.Token != "" {
		if px, ok := c.feed.LTP(inst.Token, c.feedMaxAge); ok {
			return px, nil
		}
	}
	body := map[string]string{
		"exchange":      inst.Exchange,
		"tradingsymbol": inst.Symbol,
		"symboltoken":   inst.Token,
	}
	var out envelope[struct {
		LTP float64 `json:"ltp"`
	}]
	if err := c.authed(ctx, pathLTP, body, &out); err != nil {
		return decimal.Zero, errors.Wrapf(err, "ltp %s", inst.Symbol)
	}
	if out.Data.LTP <= 0 {
		return decimal.Zero, errors.Errorf("ltp %s: no price", inst.Symbol)
	}
	return decimal.NewFromFloat(out.Data.LTP), nil
}

// Volumes returns traded volume per token for one exchange segment.
func (c *Client) Volumes(ctx context.Context, exchange string, tokens []string) (map[string]decimal.Decimal, error) {
	if len(tokens) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	body := map[string]any{
		"mode":           "FULL",
		"exchangeTokens": map[string][]string{exchange: tokens},
	}
	var out envelope[struct {
		Fetched []struct {
			SymbolToken string  `json:"symbolToken"`
			LTP         float64 `json:"ltp"`
			TradeVolume float64 `json:"tradeVolume"`
		} `json:"fetched"`
	}]
	if err := c.authed(ctx, pathQuote, body, &out); err != nil {
		return nil, errors.Wrap(err, "quote")
	}
	res := make(map[string]decimal.Decimal, len(out.Data.Fetched))
	for _, q := range out.Data.Fetched {
		res[q.SymbolToken] = decimal.NewFromFloat(q.TradeVolume)
	}
	return res, nil
}

// PlaceOrder sends an intraday market order and returns the broker order id.
// It is not retried: a lost response could otherwise duplicate the order.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	if !req.Side.Actionable() {
		return "", errors.Errorf("order %s: side %s", req.Instrument.Symbol, req.Side)
	}
	body := map[string]string{
		"variety":         "NORMAL",
		"tradingsymbol":   req.Instrument.Symbol,
		"symboltoken":     req.Instrument.Token,
		"transactiontype": string(req.Side),
		"exchange":        req.Instrument.Exchange,
		"ordertype":       "MARKET",
		"producttype":     "INTRADAY",
		"duration":        "DAY",
		"quantity":        fmt.Sprintf("%d", req.Quantity),
	}
	s, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	var out envelope[struct {
		OrderID string `json:"orderid"`
	}]
	if err := c.do(ctx, pathOrder, s.JWT, body, &out); err != nil {
		if errors.Is(err, models.ErrAuth) {
			c.DropSession()
		}
		return "", errors.Wrapf(err, "order %s", req.Instrument.Symbol)
	}
	if out.Data.OrderID == "" {
		return "", errors.Errorf("order %s: empty order id", req.Instrument.Symbol)
	}
	c.log.Info("order placed",
		zap.String("symbol", req.Instrument.Symbol),
		zap.String("side", string(req.Side)),
		zap.Int("qty", req.Quantity),
		zap.String("order_id", out.Data.OrderID),
	)
	return out.Data.OrderID, nil
}

func (c *Client) authed(ctx context.Context, path string, body, out any) error {
	s, err := c.Session(ctx)
	if err != nil {
		return err
	}
	err = c.call(ctx, path, s.JWT, body, out)
	if errors.Is(err, models.ErrAuth) {
		c.DropSession()
	}
	return err
}

// call runs do under the retry policy. Auth failures and 4xx rejections are
// returned at once.
func (c *Client) call(ctx context.Context, path, jwt string, body, out any) error {
	return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		err := c.do(ctx, path, jwt, body, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return retry.Permanent(err)
		}
		return err
	}, func(err error, wait time.Duration) {
		c.log.Warn("broker call failed, retrying",
			zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
	}, models.ErrAuth)
}

func (c *Client) do(ctx context.Context, path, jwt string, body, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	c.setHeaders(req, jwt)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "do")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.Wrapf(models.ErrAuth, "http %d", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return &APIError{Status: resp.StatusCode, Message: truncate(string(data), 200)}
	}

	var head header
	_ = sonic.Unmarshal(data, &head)
	if authCodes[head.ErrorCode] {
		return errors.Wrapf(models.ErrAuth, "%s: %s", head.ErrorCode, head.Message)
	}
	if !head.Status {
		return &APIError{Status: resp.StatusCode, Code: head.ErrorCode, Message: head.Message}
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return retry.Permanent(errors.Wrap(err, "decode"))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, jwt string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", c.cfg.LocalIP)
	req.Header.Set("X-ClientPublicIP", c.cfg.PublicIP)
	req.Header.Set("X-MACAddress", c.cfg.MAC)
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	if jwt != "" {
		req.Header.Set("Authorization", "Bearer "+jwt)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
