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
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel     = "ADSBRIDGE_LOG_LEVEL"
	EnvLogTimestamp = "ADSBRIDGE_LOG_TIMESTAMP"
	EnvLogNoColor   = "ADSBRIDGE_LOG_NOCOLOR"
	EnvLogFormat    = "ADSBRIDGE_LOG_FORMAT"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger shape. File output is optional and rotated.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Format    string
	File      FileConfig
}

// Options are the runtime overrides taken from the config file or flags.
type Options struct {
	Level   string
	Format  string
	NoColor bool
	File    FileConfig
}

// FileConfig mirrors a file sink; an empty Path keeps logs on stderr only.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var configureOnce sync.Once

func ConfigureRuntime(overrides Options) {
	configureOnce.Do(func() {
		cfg := mergeConfig(defaultConfig(ProfileRuntime), overrides)
		applyEnvOverrides(&cfg)
		install(cfg)
	})
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		install(cfg)
	})
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false, Format: "console"}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true, Format: "console"}
	}
}

func mergeConfig(base Config, overrides Options) Config {
	if lvl, ok := ParseLevel(overrides.Level); ok {
		base.Level = lvl
	}
	if strings.TrimSpace(overrides.Format) != "" {
		base.Format = strings.ToLower(strings.TrimSpace(overrides.Format))
	}
	base.NoColor = base.NoColor || overrides.NoColor
	base.File = overrides.File
	return base
}

func install(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	if path := strings.TrimSpace(cfg.File.Path); path != "" {
		// files always get json lines; the console writer is for humans
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    max(cfg.File.MaxSizeMB, 10),
			MaxBackups: max(cfg.File.MaxBackups, 1),
			MaxAge:     max(cfg.File.MaxAgeDays, 7),
			Compress:   cfg.File.Compress,
		})
	}

	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	log.Logger = ctx.Str("app", "adsbridge").Logger()
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))); v == "json" || v == "console" {
		cfg.Format = v
	}
}

// ParseLevel accepts the usual level names plus a few aliases.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
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
