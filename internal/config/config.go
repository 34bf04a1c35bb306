// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables
// (.env file first, then the process environment). There is no settings
// database in this service: every credential and tunable lives in the
// environment, consistent with running one process per deployment.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
//
// Data Directory Priority (highest to lowest):
// 1. the dataDirOverride argument to Load (cmd/bot passes none)
// 2. ARB_DATA_DIR environment variable
// 3. ./data (default)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/nullstate/arb/internal/utils"
)

// ExchangeCredentials holds the per-exchange connection parameters required
// to open an upstream SDK session.
type ExchangeCredentials struct {
	APIKey              string
	Secret              string
	Password            string // some exchanges require a passphrase in addition to key/secret
	Sandbox             bool
	EnableRateLimit     bool
	Hostname            string // overrides the default SDK hostname, used for region-pinned endpoints
	MarketBuyNeedsQuote bool   // CreateMarketBuyOrderRequiresPrice equivalent
}

// AnalystConfig holds the tunables that feed the benefit/ROI calculation.
type AnalystConfig struct {
	ProcedureTime float64 // denominator of benefit = roi / procedure_time
	BuyFee        float64 // commission applied to the buy leg of every ROI
	SellFee       float64
	SpikeMultiple float64 // PriceSanityFilter: reject ticks further than this multiple from the EMA
	SpikeWarmup   int     // minimum samples before the sanity filter activates
}

// BrainConfig holds the slippage cushion applied before accepting a deal.
type BrainConfig struct {
	Additive float64
}

// BackupConfig controls the optional S3-compatible snapshot backup.
type BackupConfig struct {
	Enabled   bool
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds application configuration.
type Config struct {
	DataDir          string // base directory for the snapshot/ledger databases, always absolute
	LogLevel         string // debug, info, warn, error
	LogPretty        bool
	HTTPPort         int
	NetworkProbeAddr string // host:port probed by the Supervisor to distinguish local vs upstream faults

	Exchanges map[string]ExchangeCredentials

	Analyst AnalystConfig
	Brain   BrainConfig
	Backup  BackupConfig
}

// Load reads configuration from environment variables.
//
// dataDirOverride - optional CLI flag override for data directory (takes highest priority)
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("ARB_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnvAsBool("LOG_PRETTY", false),
		HTTPPort:         getEnvAsInt("HTTP_PORT", 8090),
		NetworkProbeAddr: getEnv("NETWORK_PROBE_ADDR", "1.1.1.1:53"),
		Exchanges:        loadExchangeCredentials(),
		Analyst: AnalystConfig{
			ProcedureTime: getEnvAsFloat("ANALYST_PROCEDURE_TIME", 1.0),
			BuyFee:        getEnvAsFloat("ANALYST_BUY_FEE", 0.01),
			SellFee:       getEnvAsFloat("ANALYST_SELL_FEE", 0.01),
			SpikeMultiple: getEnvAsFloat("ANALYST_SPIKE_MULTIPLE", 0.2),
			SpikeWarmup:   getEnvAsInt("ANALYST_SPIKE_WARMUP", 8),
		},
		Brain: BrainConfig{
			Additive: getEnvAsFloat("BRAIN_ADDITIVE", 2.0),
		},
		Backup: BackupConfig{
			Enabled:   getEnvAsBool("BACKUP_ENABLED", false),
			Bucket:    getEnv("BACKUP_BUCKET", ""),
			Endpoint:  getEnv("BACKUP_ENDPOINT", ""),
			Region:    getEnv("BACKUP_REGION", "auto"),
			AccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_SECRET_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("config: no exchanges configured, set ARB_EXCHANGES and per-exchange API_KEY/API_SECRET env vars")
	}
	for id, creds := range c.Exchanges {
		if creds.APIKey == "" || creds.Secret == "" {
			return fmt.Errorf("config: exchange %q is missing API_KEY or API_SECRET", id)
		}
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("config: BACKUP_ENABLED is true but BACKUP_BUCKET is empty")
	}
	return nil
}

// loadExchangeCredentials reads ARB_EXCHANGES (a comma-separated list of
// exchange ids, e.g. "binance,okx,kucoin") and, for each one, the
// corresponding <ID>_API_KEY / <ID>_API_SECRET / <ID>_PASSWORD /
// <ID>_SANDBOX / <ID>_HOSTNAME environment variables.
func loadExchangeCredentials() map[string]ExchangeCredentials {
	out := make(map[string]ExchangeCredentials)
	for _, raw := range utils.ParseCSV(getEnv("ARB_EXCHANGES", "")) {
		id := strings.ToLower(raw)
		prefix := strings.ToUpper(id)
		out[id] = ExchangeCredentials{
			APIKey:              getEnv(prefix+"_API_KEY", ""),
			Secret:              getEnv(prefix+"_API_SECRET", ""),
			Password:            getEnv(prefix+"_PASSWORD", ""),
			Sandbox:             getEnvAsBool(prefix+"_SANDBOX", false),
			EnableRateLimit:     getEnvAsBool(prefix+"_RATE_LIMIT", true),
			Hostname:            getEnv(prefix+"_HOSTNAME", ""),
			MarketBuyNeedsQuote: getEnvAsBool(prefix+"_MARKET_BUY_NEEDS_QUOTE", false),
		}
	}
	return out
}

// ==========================================
// Helper Functions
// ==========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
