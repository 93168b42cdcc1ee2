package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"signalEngine/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Instruments the engine trades and monitors.
	Instruments []domain.Instrument

	// Portfolio
	PortfolioName  string
	InitialBalance float64 // Seed balance used when the portfolio does not exist yet

	// Risk settings overlay, persisted as YAML. Empty disables the overlay.
	RiskSettingsPath string

	// Database
	DBPath string

	// Price feed
	UseTestnet           bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Monitor
	MaxConcurrentTicks int

	// Logging
	LogLevel  string
	LogPretty bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	symbols := getEnv("SYMBOLS", "ETHUSDT,BTCUSDT")
	classes := getEnv("ASSET_CLASSES", "")
	cfg.Instruments, err = parseInstruments(symbols, classes)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SYMBOLS/ASSET_CLASSES: %v", err))
	}

	cfg.PortfolioName = getEnv("PORTFOLIO_NAME", "default")
	if cfg.PortfolioName == "" {
		errs = append(errs, "PORTFOLIO_NAME must be set")
	}

	cfg.InitialBalance, err = getEnvAsFloatRequired("INITIAL_BALANCE", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_BALANCE: %v", err))
	} else if cfg.InitialBalance <= 0 {
		errs = append(errs, "INITIAL_BALANCE must be positive")
	}

	cfg.RiskSettingsPath = getEnv("RISK_SETTINGS_PATH", "./data/risk_settings.yaml")

	cfg.DBPath = getEnv("DB_PATH", "./data/signal_engine.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.UseTestnet = getEnvAsBool("IS_TESTNET", true)

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 5)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	cfg.MaxConcurrentTicks = getEnvAsInt("MAX_CONCURRENT_TICKS", 8)
	if cfg.MaxConcurrentTicks <= 0 {
		errs = append(errs, "MAX_CONCURRENT_TICKS must be positive")
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", false)

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// parseInstruments pairs a comma-separated symbol list with an optional
// parallel list of asset classes. Unlisted symbols default to crypto.
func parseInstruments(symbols, classes string) ([]domain.Instrument, error) {
	symbolList := splitList(symbols)
	if len(symbolList) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	classList := splitList(classes)
	if len(classList) > 0 && len(classList) != len(symbolList) {
		return nil, fmt.Errorf("ASSET_CLASSES has %d entries for %d symbols", len(classList), len(symbolList))
	}

	instruments := make([]domain.Instrument, 0, len(symbolList))
	for i, s := range symbolList {
		class := domain.AssetCrypto
		if len(classList) > 0 {
			switch c := domain.AssetClass(strings.ToLower(classList[i])); c {
			case domain.AssetCrypto, domain.AssetEquity, domain.AssetForex:
				class = c
			default:
				return nil, fmt.Errorf("unknown asset class %q for symbol %s", classList[i], s)
			}
		}
		instruments = append(instruments, domain.Instrument{Symbol: strings.ToUpper(s), AssetClass: class})
	}
	return instruments, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
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

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
