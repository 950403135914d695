package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lendflow.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8081", cfg.Server.ListenAddress)

	_, err = os.Stat(path)
	require.NoError(t, err)

	// A second load must read the persisted file back unchanged.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Server.ListenAddress, again.Server.ListenAddress)
	require.Equal(t, cfg.Risk, again.Risk)
	require.Equal(t, cfg.Interest, again.Interest)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lendflow.toml")
	contents := `
[Server]
ListenAddress = ":9090"

[Database]
Driver = "postgres"
DSN = "host=localhost user=lendflow dbname=lendflow"

[[Assets]]
Symbol = "ETH"
Decimals = 18

[Risk]
LiquidationThresholdBps = 7500
MinHealthFactorBps = 16000
LiquidationBonusBps = 800
ReserveFactorBps = 500
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.ListenAddress)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, uint64(7500), cfg.Risk.LiquidationThresholdBps)
	// Sections absent from the file keep their defaults.
	require.InDelta(t, 0.02, cfg.Interest.BaseRate, 1e-9)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.Server.ListenAddress = " " }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongodb" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"no assets", func(c *Config) { c.Assets = nil }},
		{"duplicate asset", func(c *Config) { c.Assets = append(c.Assets, Asset{Symbol: "eth", Decimals: 18}) }},
		{"bad decimals", func(c *Config) { c.Assets[0].Decimals = 40 }},
		{"zero threshold", func(c *Config) { c.Risk.LiquidationThresholdBps = 0 }},
		{"threshold above one", func(c *Config) { c.Risk.LiquidationThresholdBps = 10_001 }},
		{"health floor below one", func(c *Config) { c.Risk.MinHealthFactorBps = 9000 }},
		{"reserve above one", func(c *Config) { c.Risk.ReserveFactorBps = 10_001 }},
		{"kink out of range", func(c *Config) { c.Interest.Kink = 1.5 }},
		{"negative slope", func(c *Config) { c.Interest.Slope1 = -0.1 }},
		{"chain enabled without url", func(c *Config) { c.Chain.Enabled = true; c.Chain.RPCURL = " " }},
		{"negative rate limit", func(c *Config) { c.RateLimit.PerSecond = -1 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		require.Errorf(t, cfg.Validate(), "case %s", tc.name)
	}
}
