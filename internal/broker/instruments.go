package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"atm_algo/internal/models"
	"atm_algo/pkg/retry"
)

const expiryLayout = "02Jan2006"

// scrip is one row of the SmartAPI instrument master file.
type scrip struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
}

// Master indexes the instrument master by symbol and holds the index option
// chains for ATM contract lookup.
type Master struct {
	url       string
	cachePath string
	http      *http.Client
	policy    retry.Policy
	log       *zap.Logger

	mu       sync.RWMutex
	bySymbol map[string]models.Instrument // exchange + ":" + symbol
	options  map[string][]models.Instrument
	loadedAt time.Time
}

func NewMaster(url, cachePath string, policy retry.Policy, log *zap.Logger) *Master {
	if log == nil {
		log = zap.NewNop()
	}
	return &Master{
		url:       url,
		cachePath: cachePath,
		http:      &http.Client{},
		policy:    policy,
		log:       log.Named("master"),
		bySymbol:  make(map[string]models.Instrument),
		options:   make(map[string][]models.Instrument),
	}
}

// Load downloads the master file and refreshes the disk cache. When the
// download fails the cached copy is used instead.
func (m *Master) Load(ctx context.Context) error {
	data, err := m.download(ctx)
	if err != nil {
		m.log.Warn("master download failed, using cache", zap.String("cache", m.cachePath), zap.Error(err))
		cached, cerr := os.ReadFile(m.cachePath)
		if cerr != nil {
			return errors.Wrapf(err, "master download (cache: %v)", cerr)
		}
		data = cached
	} else if m.cachePath != "" {
		if werr := writeCache(m.cachePath, data); werr != nil {
			m.log.Warn("master cache write failed", zap.Error(werr))
		}
	}
	return m.parse(data)
}

func (m *Master) download(ctx context.Context) ([]byte, error) {
	if m.url == "" {
		return nil, errors.New("master url not configured")
	}
	var data []byte
	err := retry.Do(ctx, m.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := m.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return &APIError{Status: resp.StatusCode, Message: "master download"}
		}
		data, err = io.ReadAll(resp.Body)
		return err
	}, nil)
	return data, err
}

func writeCache(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (m *Master) parse(data []byte) error {
	var rows []scrip
	if err := sonic.Unmarshal(data, &rows); err != nil {
		return errors.Wrap(err, "decode master")
	}

	bySymbol := make(map[string]models.Instrument, len(rows))
	options := make(map[string][]models.Instrument)
	for _, r := range rows {
		inst := models.Instrument{
			Symbol:   r.Symbol,
			Token:    r.Token,
			Exchange: r.ExchSeg,
			Name:     r.Name,
		}
		inst.LotSize, _ = strconv.Atoi(r.LotSize)
		bySymbol[r.ExchSeg+":"+r.Symbol] = inst

		if r.InstrumentType != "OPTIDX" {
			continue
		}
		exp, err := time.Parse(expiryLayout, r.Expiry)
		if err != nil {
			continue
		}
		strike, err := decimal.NewFromString(r.Strike)
		if err != nil {
			continue
		}
		inst.Expiry = exp
		inst.Strike = strike.Div(decimal.NewFromInt(100))
		options[r.Name] = append(options[r.Name], inst)
	}
	for name := range options {
		chain := options[name]
		sort.Slice(chain, func(i, j int) bool { return chain[i].Expiry.Before(chain[j].Expiry) })
	}

	m.mu.Lock()
	m.bySymbol = bySymbol
	m.options = options
	m.loadedAt = time.Now()
	m.mu.Unlock()
	m.log.Info("instrument master loaded", zap.Int("instruments", len(bySymbol)), zap.Int("chains", len(options)))
	return nil
}

// Lookup finds an instrument by exchange segment and trading symbol.
func (m *Master) Lookup(exchange, symbol string) (models.Instrument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.bySymbol[exchange+":"+symbol]
	return inst, ok
}

// OptionContract returns the nearest-expiry option of index at strike that
// has not expired at now.
func (m *Master) OptionContract(index string, strike decimal.Decimal, typ models.OptionType, now time.Time) (models.Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for _, inst := range m.options[index] {
		if inst.Expiry.Before(day) {
			continue
		}
		if !inst.Strike.Equal(strike) || !strings.HasSuffix(inst.Symbol, string(typ)) {
			continue
		}
		return inst, nil
	}
	return models.Instrument{}, fmt.Errorf("no %s %s %s contract on or after %s", index, strike, typ, day.Format("2006-01-02"))
}

func (m *Master) LoadedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadedAt
}
