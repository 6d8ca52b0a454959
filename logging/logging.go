// Package logging configures zerolog for the node and its tests.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "GEARLEDGER_LOG_LEVEL"
	EnvLogFormat    = "GEARLEDGER_LOG_FORMAT"
	EnvLogNoColor   = "GEARLEDGER_LOG_NOCOLOR"
	EnvLogTimestamp = "GEARLEDGER_LOG_TIMESTAMP"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Options describe a logger.
type Options struct {
	Level     zerolog.Level
	Format    string
	NoColor   bool
	Timestamp bool
	Output    io.Writer
}

var configureOnce sync.Once

// DefaultOptions returns the options of profile before env overrides.
func DefaultOptions(profile Profile) Options {
	opts := Options{Format: FormatConsole, Output: os.Stdout}
	switch profile {
	case ProfileTest:
		opts.Level = zerolog.DebugLevel
		opts.Timestamp = false
	default:
		opts.Level = zerolog.InfoLevel
		opts.Timestamp = true
	}
	return opts
}

// ApplyEnv overrides opts from GEARLEDGER_LOG_* variables. Unparseable
// values are ignored.
func ApplyEnv(opts *Options) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		opts.Level = lvl
	}
	if f, ok := parseFormat(os.Getenv(EnvLogFormat)); ok {
		opts.Format = f
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		opts.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		opts.Timestamp = v
	}
}

// New builds a logger from opts.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    opts.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(out).Level(opts.Level).With()
	if opts.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// Configure installs the profile's logger as the global logger once and
// returns it. The level is applied globally so SetLevel can move it later.
func Configure(profile Profile) zerolog.Logger {
	configureOnce.Do(func() {
		opts := DefaultOptions(profile)
		ApplyEnv(&opts)
		zerolog.SetGlobalLevel(opts.Level)
		log.Logger = New(opts).Level(zerolog.TraceLevel)
	})
	return log.Logger
}

func ConfigureRuntime() zerolog.Logger {
	return Configure(ProfileRuntime)
}

func ConfigureTests() zerolog.Logger {
	return Configure(ProfileTest)
}

// SetLevel changes the minimum level of every logger.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "fatal":
		return zerolog.FatalLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseFormat(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case FormatConsole, "text":
		return FormatConsole, true
	case FormatJSON:
		return FormatJSON, true
	default:
		return "", false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
