package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds everything the process needs to run.
type Config struct {
	Server   ServerConfig
	Security SecurityConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Trading  TradingConfig
}

// ServerConfig describes the thin read-only audit/metrics HTTP listener.
// The operator UI and its authentication live outside this core.
type ServerConfig struct {
	Port int
	Host string
}

// SecurityConfig protects the exchange credentials at rest.
type SecurityConfig struct {
	EncryptionKey string // exactly 32 bytes, AES-256-GCM key for pkg/crypto
}

// DatabaseConfig configures the audit-sink connection.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// LoggingConfig selects level/format for internal/logging.
type LoggingConfig struct {
	Level  string
	Format string
}

// BaseCurrencyFilter enumerates the values the base_currency knob accepts.
type BaseCurrencyFilter string

const (
	BaseCurrencyAll    BaseCurrencyFilter = "ALL"
	BaseCurrencyCustom BaseCurrencyFilter = "CUSTOM"
)

// TradingConfig is the validated settings singleton described in spec §6.
type TradingConfig struct {
	// IsEnabled seeds the master execution switch at load time. Runtime
	// reads and writes go through Enabled/SetEnabled so the circuit
	// breaker can force-disable execution (spec §4.6) without racing the
	// guard's hot-path read.
	IsEnabled bool

	TradeAmount           float64 // preset {5,10,...,100}
	MinProfitThresholdPct float64 // 0-0.9%
	MaxDailyLossUSD       float64 // 10-200
	MaxTotalLossUSD       float64 // 10-200
	MaxRetriesPerLeg      int     // 0-5
	OrderTimeoutSeconds   int     // 10-120

	BaseCurrency     BaseCurrencyFilter
	CustomCurrencies []string

	ScanIntervalMS time.Duration // enum {100,250,500,1000,2000,5000,7000,10000}ms, cache refresh cadence for UI
	OrderbookDepth int           // enum {10,25,100,500,1000}
	MaxPairs       int           // enum {100,200,300,400}

	TakerFeePct float64
	MakerFeePct float64

	// Bases is the configured set of cycle-start currencies used when
	// BaseCurrency == ALL (spec §4.3 default {USD,USDT,EUR,BTC,ETH}).
	Bases []string

	WarnStalenessMS   time.Duration
	BufferStalenessMS time.Duration
	RejectStalenessMS time.Duration

	LatencyPenaltyPctPerLeg float64
	MaxSpreadPct            float64 // edge validity ceiling, default 10%
	MinDepthLevels          int     // default 3

	MinProfitForMakerPct float64
	MaxSpreadForMakerPct float64

	WSReconnectDelay time.Duration
	WSPingInterval   time.Duration
}

// enabledMu serializes runtime flips of the master execution switch.
// It lives at package level so TradingConfig stays a plain copyable
// value for tests and snapshotting.
var enabledMu sync.RWMutex

// Enabled reports the master execution switch.
func (t *TradingConfig) Enabled() bool {
	enabledMu.RLock()
	defer enabledMu.RUnlock()
	return t.IsEnabled
}

// SetEnabled flips the master execution switch; the circuit breaker
// calls this with false when a loss limit trips (spec §4.6).
func (t *TradingConfig) SetEnabled(v bool) {
	enabledMu.Lock()
	t.IsEnabled = v
	enabledMu.Unlock()
}

var validTradeAmounts = []float64{5, 10, 15, 20, 25, 50, 75, 100}
var validScanIntervalsMS = []int{100, 250, 500, 1000, 2000, 5000, 7000, 10000}
var validDepths = []int{10, 25, 100, 500, 1000}
var validMaxPairs = []int{100, 200, 300, 400}

// Load reads the environment and returns a validated Config.
func Load() (*Config, error) {
	scanIntervalMS := getEnvAsInt("SCAN_INTERVAL_MS", 10000)

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "arbitrage"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Trading: TradingConfig{
			IsEnabled:               getEnvAsBool("TRADING_ENABLED", false),
			TradeAmount:             getEnvAsFloat("TRADE_AMOUNT", 10.0),
			MinProfitThresholdPct:   getEnvAsFloat("MIN_PROFIT_THRESHOLD_PCT", 0.05),
			MaxDailyLossUSD:         getEnvAsFloat("MAX_DAILY_LOSS_USD", 30),
			MaxTotalLossUSD:         getEnvAsFloat("MAX_TOTAL_LOSS_USD", 30),
			MaxRetriesPerLeg:        getEnvAsInt("MAX_RETRIES_PER_LEG", 2),
			OrderTimeoutSeconds:     getEnvAsInt("ORDER_TIMEOUT_SECONDS", 15),
			BaseCurrency:            BaseCurrencyFilter(getEnv("BASE_CURRENCY", "USD")),
			CustomCurrencies:        splitNonEmpty(getEnv("CUSTOM_CURRENCIES", "")),
			ScanIntervalMS:          time.Duration(scanIntervalMS) * time.Millisecond,
			OrderbookDepth:          getEnvAsInt("ORDERBOOK_DEPTH", 25),
			MaxPairs:                getEnvAsInt("MAX_PAIRS", 300),
			TakerFeePct:             getEnvAsFloat("TAKER_FEE_PCT", 0.26),
			MakerFeePct:             getEnvAsFloat("MAKER_FEE_PCT", 0.16),
			Bases:                   splitNonEmptyDefault(getEnv("BASES", ""), []string{"USD", "USDT", "EUR", "BTC", "ETH"}),
			WarnStalenessMS:         getEnvAsDuration("STALE_WARN_MS", 500*time.Millisecond),
			BufferStalenessMS:       getEnvAsDuration("STALE_BUFFER_MS", 1000*time.Millisecond),
			RejectStalenessMS:       getEnvAsDuration("STALE_REJECT_MS", 2000*time.Millisecond),
			LatencyPenaltyPctPerLeg: getEnvAsFloat("LATENCY_PENALTY_PCT_PER_LEG", 0.1),
			MaxSpreadPct:            getEnvAsFloat("MAX_SPREAD_PCT", 10.0),
			MinDepthLevels:          getEnvAsInt("MIN_DEPTH_LEVELS", 3),
			MinProfitForMakerPct:    getEnvAsFloat("MIN_PROFIT_FOR_MAKER_PCT", 0.1),
			MaxSpreadForMakerPct:    getEnvAsFloat("MAX_SPREAD_FOR_MAKER_PCT", 0.05),
			WSReconnectDelay:        getEnvAsDuration("WS_RECONNECT_DELAY", 2*time.Second),
			WSPingInterval:          getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
		},
	}

	scanIntervalMSValidated := scanIntervalMS
	if err := cfg.Validate(scanIntervalMSValidated); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects any out-of-range knob with a description of the
// allowed set, per spec §6: "Invalid values → reject with an error
// describing the allowed set."
func (c *Config) Validate(scanIntervalMS int) error {
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting API keys")
	}
	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	t := &c.Trading
	if !containsFloat(validTradeAmounts, t.TradeAmount) {
		return fmt.Errorf("trade_amount=%v invalid, must be one of %v", t.TradeAmount, validTradeAmounts)
	}
	if t.MinProfitThresholdPct < 0 || t.MinProfitThresholdPct > 0.9 {
		return fmt.Errorf("min_profit_threshold=%v out of range [0, 0.9]", t.MinProfitThresholdPct)
	}
	if t.MaxDailyLossUSD < 10 || t.MaxDailyLossUSD > 200 {
		return fmt.Errorf("max_daily_loss=%v out of range [10, 200]", t.MaxDailyLossUSD)
	}
	if t.MaxTotalLossUSD < 10 || t.MaxTotalLossUSD > 200 {
		return fmt.Errorf("max_total_loss=%v out of range [10, 200]", t.MaxTotalLossUSD)
	}
	if t.MaxRetriesPerLeg < 0 || t.MaxRetriesPerLeg > 5 {
		return fmt.Errorf("max_retries_per_leg=%d out of range [0, 5]", t.MaxRetriesPerLeg)
	}
	if t.OrderTimeoutSeconds < 10 || t.OrderTimeoutSeconds > 120 {
		return fmt.Errorf("order_timeout_seconds=%d out of range [10, 120]", t.OrderTimeoutSeconds)
	}
	switch t.BaseCurrency {
	case BaseCurrencyAll, BaseCurrencyCustom, "USD", "EUR", "USDT", "BTC", "ETH":
	default:
		return fmt.Errorf("base_currency=%q invalid, must be one of ALL,USD,EUR,USDT,BTC,ETH,CUSTOM", t.BaseCurrency)
	}
	if t.BaseCurrency == BaseCurrencyCustom && len(t.CustomCurrencies) == 0 {
		return fmt.Errorf("custom_currencies must be non-empty when base_currency=CUSTOM")
	}
	if !containsInt(validScanIntervalsMS, scanIntervalMS) {
		return fmt.Errorf("scan_interval_ms=%d invalid, must be one of %v", scanIntervalMS, validScanIntervalsMS)
	}
	if !containsInt(validDepths, t.OrderbookDepth) {
		return fmt.Errorf("orderbook_depth=%d invalid, must be one of %v", t.OrderbookDepth, validDepths)
	}
	if !containsInt(validMaxPairs, t.MaxPairs) {
		return fmt.Errorf("max_pairs=%d invalid, must be one of %v", t.MaxPairs, validMaxPairs)
	}
	return nil
}

func containsFloat(xs []float64, v float64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func splitNonEmpty(s string) []string {
	return splitNonEmptyDefault(s, nil)
}

func splitNonEmptyDefault(s string, def []string) []string {
	if s == "" {
		return def
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
