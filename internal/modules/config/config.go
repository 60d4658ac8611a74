package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	defaultConfigFile = "values_local.yaml"
)

// Symbol is one tracked instrument. Step > 0 marks an index with an option chain.
type Symbol struct {
	Name     string `yaml:"name"`
	Exchange string `yaml:"exchange"`
	Token    string `yaml:"token"`
	Step     int64  `yaml:"step"`
}

// Config ...
type Config struct {
	Service struct {
		Host      string `yaml:"host"`
		AdminPort int    `yaml:"admin_port"`
	} `yaml:"service"`

	DB string `yaml:"db_dsn"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Angel struct {
		APIKey      string `yaml:"api_key"`
		ClientCode  string `yaml:"client_code"`
		Password    string `yaml:"password"`
		TOTPSecret  string `yaml:"totp_secret"`
		BaseURL     string `yaml:"base_url"`
		WSURL       string `yaml:"ws_url"`
		MasterURL   string `yaml:"master_url"`
		MasterCache string `yaml:"master_cache"`
		LocalIP     string `yaml:"local_ip"`
		PublicIP    string `yaml:"public_ip"`
		MAC         string `yaml:"mac"`
		UseFeed     bool   `yaml:"use_feed"`
	} `yaml:"angel"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	Runner struct {
		Interval       time.Duration `yaml:"interval"`
		CandleInterval string        `yaml:"candle_interval"` // broker interval name, e.g. FIFTEEN_MINUTE
		LookbackDays   int           `yaml:"lookback_days"`
		Quantity       int           `yaml:"quantity"`
		OptionsEnabled bool          `yaml:"options_enabled"`
		Symbols        []Symbol      `yaml:"symbols"`
		Indices        []Symbol      `yaml:"indices"` // ATM summary
		JournalPath    string        `yaml:"journal_path"`
	} `yaml:"runner"`

	Strategy struct {
		Name       string  `yaml:"name"` // fusion | breakout
		RSIPeriod  int     `yaml:"rsi_period"`
		EMAPeriod  int     `yaml:"ema_period"`
		MACDFast   int     `yaml:"macd_fast"`
		MACDSlow   int     `yaml:"macd_slow"`
		MACDSignal int     `yaml:"macd_signal"`
		SMAShort   int     `yaml:"sma_short"`
		SMALong    int     `yaml:"sma_long"`
		RSIBuy     float64 `yaml:"rsi_buy"`
		RSISell    float64 `yaml:"rsi_sell"`
		PCRBuyMax  float64 `yaml:"pcr_buy_max"`
		PCRSellMin float64 `yaml:"pcr_sell_min"`
	} `yaml:"strategy"`

	// Stop and take-profit distance from entry, percent.
	Risk struct {
		StopPct       float64 `yaml:"stop_pct"`
		TakeProfitPct float64 `yaml:"take_profit_pct"`
	} `yaml:"risk"`

	Strike struct {
		HysteresisFrac float64 `yaml:"hysteresis_frac"` // of step, around the midpoint
	} `yaml:"strike"`

	Retry struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
		Jitter      float64       `yaml:"jitter"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"retry"`
}

func defaults() Config {
	var c Config
	c.Service.Host = "0.0.0.0"
	c.Service.AdminPort = 8080

	c.Angel.BaseURL = "https://apiconnect.angelone.in"
	c.Angel.WSURL = "wss://smartapisocket.angelone.in/smart-stream"
	c.Angel.MasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"
	c.Angel.MasterCache = "data/master.json"
	c.Angel.LocalIP = "127.0.0.1"
	c.Angel.PublicIP = "127.0.0.1"
	c.Angel.MAC = "00:00:00:00:00:00"

	c.Log.Level = "info"
	c.Log.MaxSizeMB = 50
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 14

	c.Tracing.Host = "localhost"
	c.Tracing.Port = 6831

	c.Runner.Interval = 15 * time.Minute
	c.Runner.CandleInterval = "FIFTEEN_MINUTE"
	c.Runner.LookbackDays = 5
	c.Runner.Quantity = 1
	c.Runner.JournalPath = "data/trades.jsonl"

	c.Strategy.Name = "fusion"
	c.Strategy.RSIPeriod = 14
	c.Strategy.EMAPeriod = 20
	c.Strategy.MACDFast = 12
	c.Strategy.MACDSlow = 26
	c.Strategy.MACDSignal = 9
	c.Strategy.SMAShort = 5
	c.Strategy.SMALong = 20
	c.Strategy.RSIBuy = 60
	c.Strategy.RSISell = 40
	c.Strategy.PCRBuyMax = 0.75
	c.Strategy.PCRSellMin = 1.10

	c.Risk.StopPct = 3
	c.Risk.TakeProfitPct = 10

	c.Strike.HysteresisFrac = 0.02

	c.Retry.MaxAttempts = 5
	c.Retry.BaseDelay = time.Second
	c.Retry.MaxDelay = 30 * time.Second
	c.Retry.Jitter = 0.5
	c.Retry.Timeout = 20 * time.Second
	return c
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	env := viper.New()
	env.AutomaticEnv()
	env.SetDefault(configFilePathENV, defaultConfigFile)
	env.SetDefault(configDirENV, "configs")

	return Load(filepath.Join(env.GetString(configDirENV), env.GetString(configFilePathENV)), env)
}

// Load decodes the YAML file over the defaults and applies environment
// overrides for secrets. env may be nil.
func Load(path string, env *viper.Viper) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	config := defaults()
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if env == nil {
		env = viper.New()
		env.AutomaticEnv()
	}
	overrideString(env, "DATABASE_DSN", &config.DB)
	overrideString(env, "TELEGRAM_BOT_TOKEN", &config.Telegram.Token)
	if env.IsSet("TELEGRAM_CHAT_ID") {
		config.Telegram.ChatID = env.GetInt64("TELEGRAM_CHAT_ID")
	}
	overrideString(env, "ANGEL_API_KEY", &config.Angel.APIKey)
	overrideString(env, "ANGEL_CLIENT_CODE", &config.Angel.ClientCode)
	overrideString(env, "ANGEL_CLIENT_PWD", &config.Angel.Password)
	overrideString(env, "ANGEL_TOTP_SECRET", &config.Angel.TOTPSecret)
	overrideString(env, "LOG_LEVEL", &config.Log.Level)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func overrideString(env *viper.Viper, key string, dst *string) {
	if v := strings.TrimSpace(env.GetString(key)); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	if c.Strategy.SMAShort >= c.Strategy.SMALong {
		return fmt.Errorf("sma_short must be < sma_long")
	}
	if c.Strategy.MACDFast >= c.Strategy.MACDSlow {
		return fmt.Errorf("macd_fast must be < macd_slow")
	}
	if c.Risk.StopPct <= 0 || c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("stop_pct and take_profit_pct must be positive")
	}
	if c.Runner.Interval <= 0 {
		return fmt.Errorf("runner interval must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	if c.Strike.HysteresisFrac <= 0 || c.Strike.HysteresisFrac >= 0.5 {
		return fmt.Errorf("strike hysteresis_frac must be in (0, 0.5), got %g", c.Strike.HysteresisFrac)
	}
	for _, s := range append(append([]Symbol{}, c.Runner.Symbols...), c.Runner.Indices...) {
		if s.Name == "" || s.Exchange == "" {
			return fmt.Errorf("symbol entries need name and exchange")
		}
		if s.Step < 0 {
			return fmt.Errorf("%s: negative strike step", s.Name)
		}
	}
	return nil
}

// AdminAddr is the listen address of the health/metrics server.
func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.AdminPort)
}
