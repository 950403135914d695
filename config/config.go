// Package config loads the lendflow daemon configuration from TOML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    Server    `toml:"Server"`
	Database  Database  `toml:"Database"`
	Assets    []Asset   `toml:"Assets"`
	Risk      Risk      `toml:"Risk"`
	Interest  Interest  `toml:"Interest"`
	Oracle    Oracle    `toml:"Oracle"`
	Chain     Chain     `toml:"Chain"`
	Auth      Auth      `toml:"Auth"`
	RateLimit RateLimit `toml:"RateLimit"`
	Log       Log       `toml:"Log"`
}

type Server struct {
	ListenAddress   string `toml:"ListenAddress"`
	ReadTimeoutSec  int    `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSec int    `toml:"WriteTimeoutSeconds"`
	ShutdownSec     int    `toml:"ShutdownSeconds"`
}

type Database struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Asset declares one supported pool asset. Decimals converts between the
// display units accepted on the API and the base units kept in the ledger.
type Asset struct {
	Symbol   string `toml:"Symbol"`
	Decimals int32  `toml:"Decimals"`
}

// Risk parameters are basis points throughout.
type Risk struct {
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	MinHealthFactorBps      uint64 `toml:"MinHealthFactorBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	ReserveFactorBps        uint64 `toml:"ReserveFactorBps"`
}

// Interest describes the kinked utilisation curve as annual fractions.
type Interest struct {
	BaseRate float64 `toml:"BaseRate"`
	Slope1   float64 `toml:"Slope1"`
	Slope2   float64 `toml:"Slope2"`
	Kink     float64 `toml:"Kink"`
}

type Oracle struct {
	MaxAgeSeconds int `toml:"MaxAgeSeconds"`
	// Prices seeds the static feed, symbol to quote in the reference
	// currency. Empty means every price must be pushed at runtime.
	Prices map[string]float64 `toml:"Prices"`
}

type Chain struct {
	Enabled        bool   `toml:"Enabled"`
	RPCURL         string `toml:"RPCURL"`
	TimeoutSeconds int    `toml:"TimeoutSeconds"`
	RetryAttempts  int    `toml:"RetryAttempts"`
}

type Auth struct {
	// JWTSecret guards mutating endpoints when set; empty disables auth.
	JWTSecret string `toml:"JWTSecret"`
	// AdminToken guards the operational credit endpoint.
	AdminToken string `toml:"AdminToken"`
}

type RateLimit struct {
	PerSecond float64 `toml:"PerSecond"`
	Burst     int     `toml:"Burst"`
}

type Log struct {
	Level  string `toml:"Level"`
	Format string `toml:"Format"`
	// File enables rotation-backed output when set; empty logs to stdout.
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Default returns the development configuration: local sqlite ledger, no
// chain link, no auth.
func Default() *Config {
	return &Config{
		Server: Server{
			ListenAddress:   ":8081",
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 15,
			ShutdownSec:     10,
		},
		Database: Database{
			Driver: "sqlite",
			DSN:    "file:lendflow.db?cache=shared",
		},
		Assets: []Asset{
			{Symbol: "ETH", Decimals: 18},
			{Symbol: "COL", Decimals: 18},
		},
		Risk: Risk{
			LiquidationThresholdBps: 8000,
			MinHealthFactorBps:      15000,
			LiquidationBonusBps:     500,
			ReserveFactorBps:        1000,
		},
		Interest: Interest{
			BaseRate: 0.02,
			Slope1:   0.15,
			Slope2:   0.60,
			Kink:     0.80,
		},
		Oracle: Oracle{
			MaxAgeSeconds: 300,
			Prices:        map[string]float64{"ETH": 1.0, "COL": 1.0},
		},
		Chain: Chain{
			Enabled:        false,
			RPCURL:         "http://localhost:8545",
			TimeoutSeconds: 10,
			RetryAttempts:  3,
		},
		RateLimit: RateLimit{PerSecond: 50, Burst: 100},
		Log:       Log{Level: "info", Format: "json"},
	}
}

// Load reads the configuration from path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.ListenAddress) == "" {
		return fmt.Errorf("config: Server.ListenAddress is required")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported Database.Driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: Database.DSN is required")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("config: at least one asset is required")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: asset with empty symbol")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate asset %s", symbol)
		}
		seen[symbol] = struct{}{}
		if asset.Decimals < 0 || asset.Decimals > 36 {
			return fmt.Errorf("config: asset %s has invalid decimals %d", symbol, asset.Decimals)
		}
	}
	if c.Risk.LiquidationThresholdBps == 0 || c.Risk.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("config: Risk.LiquidationThresholdBps must be in (0, 10000]")
	}
	if c.Risk.MinHealthFactorBps < 10_000 {
		return fmt.Errorf("config: Risk.MinHealthFactorBps must be at least 10000")
	}
	if c.Risk.ReserveFactorBps > 10_000 {
		return fmt.Errorf("config: Risk.ReserveFactorBps above 10000")
	}
	if c.Interest.Kink <= 0 || c.Interest.Kink >= 1 {
		return fmt.Errorf("config: Interest.Kink must be in (0, 1)")
	}
	if c.Interest.BaseRate < 0 || c.Interest.Slope1 < 0 || c.Interest.Slope2 < 0 {
		return fmt.Errorf("config: interest rates must be non-negative")
	}
	if c.Chain.Enabled && strings.TrimSpace(c.Chain.RPCURL) == "" {
		return fmt.Errorf("config: Chain.RPCURL required when chain is enabled")
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit values must be non-negative")
	}
	return nil
}

func persist(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// AssetDecimals returns the decimals map used by the gateway for unit
// conversion.
func (c *Config) AssetDecimals() map[string]int32 {
	decimals := make(map[string]int32, len(c.Assets))
	for _, asset := range c.Assets {
		decimals[strings.ToUpper(strings.TrimSpace(asset.Symbol))] = asset.Decimals
	}
	return decimals
}
