// Package config loads and validates the runner's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"bridge-runner/pkg/amount"
	"bridge-runner/pkg/delay"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

var ErrInvalidConfig = errors.New("config: invalid")

type DelayRange struct {
	Min time.Duration `yaml:"min" validate:"gte=0"`
	Max time.Duration `yaml:"max" validate:"gtefield=Min"`
}

func (d DelayRange) Range() delay.Range {
	return delay.Range{Min: d.Min, Max: d.Max}
}

type Delays struct {
	Action  DelayRange `yaml:"action"`
	Account DelayRange `yaml:"account"`
	Module  DelayRange `yaml:"module"`
}

type Chain struct {
	RPCUrl         string `yaml:"rpc_url" validate:"required,url"`
	BridgeContract string `yaml:"bridge_contract" validate:"required,eth_addr"`
	// BalanceToken, when set, is the ERC20 whose balance bounds withdrawals.
	BalanceToken string `yaml:"balance_token" validate:"omitempty,eth_addr"`
	ExplorerURL  string `yaml:"explorer_url" validate:"omitempty,url"`
}

type Module struct {
	Enabled bool              `yaml:"enabled"`
	Range   amount.Range      `yaml:"range"`
	Fixed   amount.FixedRange `yaml:"fixed"`
	Mode    string            `yaml:"mode" validate:"omitempty,oneof=native token"`
}

func (m Module) AmountMode() amount.Mode {
	if m.Mode == "token" {
		return amount.Token
	}
	return amount.Native
}

type Deposit struct {
	Module     `yaml:",inline"`
	L2GasLimit uint64 `yaml:"l2_gas_limit" validate:"gte=21000"`
}

type Claim struct {
	APIURL            string  `yaml:"api_url" validate:"required,url"`
	Origin            string  `yaml:"origin" validate:"omitempty,url"`
	PageSize          int     `yaml:"page_size" validate:"gte=1"`
	MaxPages          int     `yaml:"max_pages" validate:"gte=1"`
	LookupAttempts    int     `yaml:"lookup_attempts" validate:"gte=1"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	GasLimit          uint64  `yaml:"gas_limit" validate:"gte=21000"`
}

type Receipt struct {
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	PollAttempts int           `yaml:"poll_attempts" validate:"gte=1"`
}

type Metrics struct {
	Enabled     bool   `yaml:"enabled"`
	Environment string `yaml:"environment"`
	APIKey      string `yaml:"-"`
	AppKey      string `yaml:"-"`
}

type Config struct {
	LogLevel          string  `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	PrivateKeysFile   string  `yaml:"private_keys_file" validate:"required"`
	CompletedFile     string  `yaml:"completed_file" validate:"required"`
	UncompletedFile   string  `yaml:"uncompleted_file" validate:"required"`
	ShuffleWallets    bool    `yaml:"shuffle_wallets"`
	RetryCount        int     `yaml:"retry_count" validate:"gte=1"`
	CancelPendingTxes bool    `yaml:"cancel_pending_txes"`
	Delays            Delays  `yaml:"delays"`
	Source            Chain   `yaml:"source"`
	Bridge            Chain   `yaml:"bridge"`
	Deposit           Deposit `yaml:"deposit"`
	Withdraw          Module  `yaml:"withdraw"`
	SelfTransfer      Module  `yaml:"self_transfer"`
	Claim             Claim   `yaml:"claim"`
	Receipt           Receipt `yaml:"receipt"`
	Metrics           Metrics `yaml:"metrics"`
}

// Default returns the configuration of the Sepolia to Reddio devnet bridge.
func Default() Config {
	return Config{
		LogLevel:        "info",
		PrivateKeysFile: "private_keys",
		CompletedFile:   "completed_accounts",
		UncompletedFile: "uncompleted_accounts",
		ShuffleWallets:  true,
		RetryCount:      3,
		Delays: Delays{
			Action:  DelayRange{Min: 3 * time.Second, Max: 5 * time.Second},
			Account: DelayRange{Min: 5 * time.Minute, Max: 10 * time.Minute},
			Module:  DelayRange{Min: 1 * time.Minute, Max: 2 * time.Minute},
		},
		Source: Chain{
			RPCUrl:         "https://1rpc.io/sepolia",
			BridgeContract: "0xB74D5Dba3081bCaDb5D4e1CC77Cc4807E1c4ecf8",
			ExplorerURL:    "https://sepolia.etherscan.io",
		},
		Bridge: Chain{
			RPCUrl:         "https://reddio-dev.reddio.com",
			BridgeContract: "0xA3ED8915aE346bF85E56B6BB6b723091716f58b4",
			BalanceToken:   "0x4f4FDcECa7d48822E39097970b6cDBa179C28d9b",
			ExplorerURL:    "https://reddio-devnet.l2scan.co",
		},
		Deposit: Deposit{
			Module: Module{
				Range: amount.Range{Min: 0.0001, Max: 0.0001},
				Fixed: amount.FixedRange{Min: 4, Max: 5},
			},
			L2GasLimit: 3_000_000,
		},
		Withdraw: Module{
			Enabled: true,
			Range:   amount.Range{Min: 0.005, Max: 0.007},
			Fixed:   amount.FixedRange{Min: 3, Max: 5},
		},
		SelfTransfer: Module{
			Range: amount.Range{Min: 0.001, Max: 0.002},
			Fixed: amount.FixedRange{Min: 3, Max: 5},
		},
		Claim: Claim{
			APIURL:         "https://reddio-dev.reddio.com",
			Origin:         "https://testnet-bridge.reddio.com",
			PageSize:       100,
			MaxPages:       1,
			LookupAttempts: 1,
			GasLimit:       3_000_000,
		},
		Receipt: Receipt{
			PollInterval: 5 * time.Second,
			PollAttempts: 60,
		},
		Metrics: Metrics{Environment: "testnet"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file at: %s, %w", path, err)
	}
	if err := yaml.UnmarshalStrict(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config file at: %s, %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides endpoints and secrets from the environment when the variables are set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Source.RPCUrl, "SOURCE_RPC_URL")
	set(&c.Bridge.RPCUrl, "BRIDGE_RPC_URL")
	set(&c.PrivateKeysFile, "PRIVATE_KEYS_FILE")
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.Claim.APIURL, "CLAIMS_API_URL")
	set(&c.Metrics.APIKey, "DD_API_KEY")
	set(&c.Metrics.AppKey, "DD_APP_KEY")
}

// Check validates field constraints, then the rules that span fields.
func (c *Config) Check() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return checkConfig(c)
}

func checkConfig(c *Config) error {
	modules := []struct {
		name string
		m    Module
	}{
		{"deposit", c.Deposit.Module},
		{"withdraw", c.Withdraw},
		{"self_transfer", c.SelfTransfer},
	}
	enabled := 0
	for _, mod := range modules {
		if !mod.m.Enabled {
			continue
		}
		enabled++
		if err := mod.m.Range.Validate(); err != nil {
			return fmt.Errorf("%w: %s.range: %v", ErrInvalidConfig, mod.name, err)
		}
		if err := mod.m.Fixed.Validate(); err != nil {
			return fmt.Errorf("%w: %s.fixed: %v", ErrInvalidConfig, mod.name, err)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("%w: at least one of deposit, withdraw, self_transfer must be enabled", ErrInvalidConfig)
	}
	if c.Metrics.Enabled && (c.Metrics.APIKey == "" || c.Metrics.AppKey == "") {
		return fmt.Errorf("%w: metrics enabled but DD_API_KEY or DD_APP_KEY is not set", ErrInvalidConfig)
	}
	return nil
}
