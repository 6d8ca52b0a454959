// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName       = errors.New("invalid application name")
	ErrInvalidEnvironment   = errors.New("invalid environment")
	ErrInvalidLogLevel      = errors.New("invalid log level")
	ErrInvalidLogFormat     = errors.New("invalid log format")
	ErrInvalidStorage       = errors.New("invalid storage backend")
	ErrInvalidBlockGasLimit = errors.New("invalid block gas limit")
	ErrInvalidGasPrice      = errors.New("invalid gas price")
	ErrInvalidBlockInterval = errors.New("invalid block interval")
	ErrInvalidAddress       = errors.New("invalid account address")
	ErrInvalidGenesis       = errors.New("invalid genesis account")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrUnsupportedFormat   = errors.New("unsupported configuration format")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
