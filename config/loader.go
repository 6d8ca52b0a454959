// Package config provides configuration loading and parsing functionality
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
	FormatTOML ConfigFormat = "toml"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "GEARLEDGER"

// FormatFromPath derives the format from a file extension.
func FormatFromPath(path string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{".", "./config", "./configs", "/etc/gearledger"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".gearledger"))
	}
	return &Loader{
		searchPaths:   paths,
		envPrefix:     DefaultEnvPrefix,
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	return l.defaultConfig.Clone()
}

// Load loads configuration from filename, or from the search paths
// when filename is empty. Missing files in the search paths fall back
// to the defaults.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename != "" {
		return l.LoadFromFile(filename)
	}
	return l.AutoLoad()
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	format, err := FormatFromPath(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	return l.finish(data, format)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}
	return l.finish(data, format)
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(nil, "")
	}
	if err != nil {
		return nil, err
	}
	return l.LoadFromFile(configFile)
}

// finish parses data over the defaults, applies the environment and validates.
func (l *Loader) finish(data []byte, format ConfigFormat) (*Config, error) {
	config := l.defaults()
	if data != nil {
		if err := l.parseInto(config, data, format); err != nil {
			return nil, err
		}
	}

	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{
		"gearledger.yaml", "gearledger.yml", "gearledger.toml", "gearledger.json",
		"config.yaml", "config.yml", "config.toml", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

// parseInto decodes data over config. Keys absent from data keep their
// current values.
func (l *Loader) parseInto(config *Config, data []byte, format ConfigFormat) error {
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, config)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(config)
	case FormatTOML:
		_, err = toml.Decode(string(data), config)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigParseError, format, err)
	}
	return nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	get := func(name string) (string, bool) {
		v, ok := os.LookupEnv(l.envPrefix + "_" + name)
		return v, ok && v != ""
	}

	// App configuration
	if val, ok := get("APP_NAME"); ok {
		config.App.Name = val
	}
	if val, ok := get("APP_ENVIRONMENT"); ok {
		config.App.Environment = Environment(val)
	}
	if val, ok := get("APP_DEBUG"); ok {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val, ok := get("LOG_LEVEL"); ok {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val, ok := get("LOG_FORMAT"); ok {
		config.Log.Format = strings.ToLower(val)
	}

	// Storage configuration
	if val, ok := get("STORAGE_BACKEND"); ok {
		config.Storage.Backend = val
	}
	if val, ok := get("STORAGE_PATH"); ok {
		config.Storage.Path = val
	}

	// Ledger configuration
	uints := []struct {
		name string
		dst  *uint64
	}{
		{"LEDGER_BLOCK_GAS_LIMIT", &config.Ledger.BlockGasLimit},
		{"LEDGER_WAIT_LIST_FEE_PER_BLOCK", &config.Ledger.WaitListFeePerBlock},
		{"LEDGER_EXISTENTIAL_DEPOSIT", &config.Ledger.ExistentialDeposit},
		{"LEDGER_GAS_PRICE", &config.Ledger.GasPrice},
	}
	for _, u := range uints {
		val, ok := get(u.name)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s_%s: %v", ErrEnvironmentVarError, l.envPrefix, u.name, err)
		}
		*u.dst = n
	}
	if val, ok := get("LEDGER_BLOCK_INTERVAL"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s_LEDGER_BLOCK_INTERVAL: %v", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Ledger.BlockInterval = Duration{d}
	}
	if val, ok := get("LEDGER_AUTHOR"); ok {
		config.Ledger.Author = val
	}

	// Messenger configuration
	if val, ok := get("MESSENGER_CLEAR_STORAGES_ON_RESET"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: %s_MESSENGER_CLEAR_STORAGES_ON_RESET: %v", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Messenger.ClearStoragesOnReset = b
	}

	return nil
}
