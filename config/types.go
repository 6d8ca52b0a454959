// Package config provides configuration management for the gearledger node
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Storage backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Duration is a time.Duration written as "1s", "250ms" in every format.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText writes the Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the complete node configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app" toml:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log" toml:"log"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage" json:"storage" toml:"storage"`

	// Ledger constants and block production
	Ledger LedgerConfig `yaml:"ledger" json:"ledger" toml:"ledger"`

	// Messenger configuration
	Messenger MessengerConfig `yaml:"messenger" json:"messenger" toml:"messenger"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name" toml:"name"`

	// Application version
	Version string `yaml:"version" json:"version" toml:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment" toml:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug" toml:"debug"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level" toml:"level"`

	// Log format (console, json)
	Format string `yaml:"format" json:"format" toml:"format"`

	// Disable colored console output
	NoColor bool `yaml:"no_color" json:"no_color" toml:"no_color"`
}

// StorageConfig selects the durable store
type StorageConfig struct {
	// Backend is memory or sqlite
	Backend string `yaml:"backend" json:"backend" toml:"backend"`

	// Path of the sqlite database file
	Path string `yaml:"path" json:"path" toml:"path"`
}

// GenesisAccount is an account funded when the store is first opened
type GenesisAccount struct {
	Address string `yaml:"address" json:"address" toml:"address"`
	Balance uint64 `yaml:"balance" json:"balance" toml:"balance"`
}

// LedgerConfig contains the ledger constants
type LedgerConfig struct {
	// Gas available to one block
	BlockGasLimit uint64 `yaml:"block_gas_limit" json:"block_gas_limit" toml:"block_gas_limit"`

	// Gas charged per block a message spends in a waitlist
	WaitListFeePerBlock uint64 `yaml:"wait_list_fee_per_block" json:"wait_list_fee_per_block" toml:"wait_list_fee_per_block"`

	// Minimum balance of a live account
	ExistentialDeposit uint64 `yaml:"existential_deposit" json:"existential_deposit" toml:"existential_deposit"`

	// Currency per unit of gas
	GasPrice uint64 `yaml:"gas_price" json:"gas_price" toml:"gas_price"`

	// Time between produced blocks
	BlockInterval Duration `yaml:"block_interval" json:"block_interval" toml:"block_interval"`

	// Hex address credited with gas fees
	Author string `yaml:"author" json:"author" toml:"author"`

	// Accounts funded on an empty store
	Genesis []GenesisAccount `yaml:"genesis,omitempty" json:"genesis,omitempty" toml:"genesis,omitempty"`
}

// MessengerConfig contains messenger behaviour switches
type MessengerConfig struct {
	// Drop the queue and mailboxes at every block start
	ClearStoragesOnReset bool `yaml:"clear_storages_on_reset" json:"clear_storages_on_reset" toml:"clear_storages_on_reset"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "gearledger",
			Version:     "0.1.0",
			Environment: EnvDevelopment,
			Debug:       true,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "console",
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		Ledger: LedgerConfig{
			BlockGasLimit:       100_000_000_000,
			WaitListFeePerBlock: 1_000,
			ExistentialDeposit:  500,
			GasPrice:            1,
			BlockInterval:       Duration{time.Second},
			Author:              "0x00000000000000000000000000000000000000000000000000000000000000ff",
		},
		Messenger: MessengerConfig{
			ClearStoragesOnReset: true,
		},
	}
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	out.Ledger.Genesis = append([]GenesisAccount(nil), c.Ledger.Genesis...)
	return &out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: sqlite needs a path", ErrInvalidStorage)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStorage, c.Storage.Backend)
	}

	if c.Ledger.BlockGasLimit == 0 {
		return ErrInvalidBlockGasLimit
	}
	if c.Ledger.GasPrice == 0 {
		return ErrInvalidGasPrice
	}
	if c.Ledger.BlockInterval.Duration <= 0 {
		return ErrInvalidBlockInterval
	}
	if !IsAddress(c.Ledger.Author) {
		return fmt.Errorf("%w: author %q", ErrInvalidAddress, c.Ledger.Author)
	}
	for i, acc := range c.Ledger.Genesis {
		if !IsAddress(acc.Address) {
			return fmt.Errorf("%w: genesis[%d] address %q", ErrInvalidAddress, i, acc.Address)
		}
		if acc.Balance < c.Ledger.ExistentialDeposit {
			return fmt.Errorf("%w: genesis[%d] balance below existential deposit", ErrInvalidGenesis, i)
		}
	}

	return nil
}

// IsAddress reports whether s is a 32-byte hex address, with or without 0x.
func IsAddress(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
