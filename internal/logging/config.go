package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel     = "VIZLINK_LOG_LEVEL"
	EnvLogTimestamp = "VIZLINK_LOG_TIMESTAMP"
	EnvLogNoColor   = "VIZLINK_LOG_NOCOLOR"
	EnvLogFile      = "VIZLINK_LOG_FILE"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config controls how the process logger is built.
type Config struct {
	App        string
	Level      zerolog.Level
	Timestamp  bool
	NoColor    bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	configureOnce sync.Once
	processMeta   = NewMetadata()
)

// ConfigureRuntime installs the process logger for a long-running
// command: runtime defaults, then the command's level and file, then env
// overrides. Unlike Configure it replaces any logger installed earlier.
func ConfigureRuntime(level zerolog.Level, file string) zerolog.Logger {
	cfg := DefaultConfig(ProfileRuntime)
	cfg.Level = level
	cfg.File = file
	ApplyEnvOverrides(&cfg)
	log.Logger = New(cfg, processMeta)
	return log.Logger
}

func ConfigureTests() zerolog.Logger {
	return Configure(ProfileTest)
}

// Configure installs the process logger once; later calls return the
// already installed logger.
func Configure(profile Profile) zerolog.Logger {
	configureOnce.Do(func() {
		cfg := DefaultConfig(profile)
		ApplyEnvOverrides(&cfg)
		log.Logger = New(cfg, processMeta)
	})
	return log.Logger
}

// ProcessMetadata is the metadata record attached to the process logger.
func ProcessMetadata() *Metadata {
	return processMeta
}

func DefaultConfig(profile Profile) Config {
	cfg := Config{
		App:        "vizlink",
		MaxSizeMB:  64,
		MaxBackups: 4,
		MaxAgeDays: 14,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
	}
	return cfg
}

func ApplyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.File = v
	}
}

// New builds a logger for cfg. A nil meta leaves the logger without the
// metadata hook.
func New(cfg Config, meta *Metadata) zerolog.Logger {
	ctx := zerolog.New(Writer(cfg)).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.App != "" {
		ctx = ctx.Str("app", cfg.App)
	}
	logger := ctx.Logger()
	if meta != nil {
		logger = logger.Hook(meta)
	}
	return logger
}

// Writer returns the sink for cfg: a rotating file when File is set,
// console output otherwise.
func Writer(cfg Config) io.Writer {
	if strings.TrimSpace(cfg.File) != "" {
		return &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
}

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

// OrDefault returns l, or the process logger when l is nil.
func OrDefault(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return log.Logger
	}
	return *l
}
