package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bridge-runner/pkg/amount"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Check())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
retry_count: 5
delays:
  action:
    min: 1s
    max: 2s
deposit:
  enabled: true
  range:
    min: 0.01
    max: 0.02
  fixed:
    min: 2
    max: 3
  l2_gas_limit: 1000000
claim:
  api_url: https://claims.example.com
  page_size: 50
  max_pages: 3
  lookup_attempts: 4
  gas_limit: 3000000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Check())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.Delays.Action.Min)
	assert.Equal(t, 5*time.Minute, cfg.Delays.Account.Min)
	assert.True(t, cfg.Deposit.Enabled)
	assert.Equal(t, amount.Range{Min: 0.01, Max: 0.02}, cfg.Deposit.Range)
	assert.Equal(t, uint64(1_000_000), cfg.Deposit.L2GasLimit)
	assert.Equal(t, 4, cfg.Claim.LookupAttempts)
	assert.True(t, cfg.Withdraw.Enabled)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "retry_cnt: 3\n"))
	require.Error(t, err)
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SOURCE_RPC_URL": "http://localhost:8545",
		"DD_API_KEY":     "k",
		"DD_APP_KEY":     "a",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "http://localhost:8545", cfg.Source.RPCUrl)
	assert.Equal(t, Default().Bridge.RPCUrl, cfg.Bridge.RPCUrl)
	assert.Equal(t, "k", cfg.Metrics.APIKey)
	assert.Equal(t, "a", cfg.Metrics.AppKey)
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero retry", func(c *Config) { c.RetryCount = 0 }},
		{"bad contract", func(c *Config) { c.Bridge.BridgeContract = "0x123" }},
		{"missing rpc", func(c *Config) { c.Source.RPCUrl = "" }},
		{"inverted delay", func(c *Config) { c.Delays.Module = DelayRange{Min: time.Minute, Max: time.Second} }},
		{"inverted range", func(c *Config) { c.Withdraw.Range = amount.Range{Min: 1, Max: 0.5} }},
		{"inverted fixed", func(c *Config) { c.Withdraw.Fixed = amount.FixedRange{Min: 5, Max: 3} }},
		{"nothing enabled", func(c *Config) { c.Withdraw.Enabled = false }},
		{"metrics without keys", func(c *Config) { c.Metrics.Enabled = true }},
		{"bad mode", func(c *Config) { c.Withdraw.Mode = "wei" }},
		{"zero poll interval", func(c *Config) { c.Receipt.PollInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Check(), ErrInvalidConfig)
		})
	}
}

func TestBridgeOptions(t *testing.T) {
	cfg := Default()
	cfg.Withdraw.Mode = "token"
	opts := cfg.BridgeOptions(nil)

	assert.Equal(t, 3, opts.RetryCount)
	assert.Equal(t, amount.Token, opts.Withdraw.Mode)
	assert.Equal(t, "3000000", opts.DepositL2GasLimit.String())
	assert.Equal(t, uint64(3_000_000), opts.ClaimGasLimit)
	assert.Equal(t, cfg.Delays.Module.Max, opts.ModuleDelay.Max)
	assert.Nil(t, opts.WithdrawBalance)
}

func TestNewResolver(t *testing.T) {
	cfg := Default()
	_, err := cfg.NewResolver()
	require.NoError(t, err)

	cfg.Claim.APIURL = "not a url"
	_, err = cfg.NewResolver()
	require.Error(t, err)
	assert.True(t, common.IsHexAddress(cfg.Bridge.BalanceToken))
}
