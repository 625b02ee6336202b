// Package logging configures zerolog for the process: the root logger, named loggers with their own
// level and durable file sinks, and the audit state inspected by the compliance validator.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/animalet/sargantana-ksm/pkg/compliance"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditLogger is the logger audit events are written to.
const AuditLogger = "keeper.ksm.audit"

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// FileSink is a rotated log file. Entries written to it survive a restart.
type FileSink struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Validate requires a path and non-negative rotation limits.
func (f *FileSink) Validate() error {
	if f == nil {
		return nil
	}
	if strings.TrimSpace(f.Path) == "" {
		return errors.New("file sink path is required")
	}
	if f.MaxSizeMB < 0 || f.MaxBackups < 0 || f.MaxAgeDays < 0 {
		return errors.New("file sink rotation limits must not be negative")
	}
	return nil
}

func (f *FileSink) writer() *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    f.MaxSizeMB,
		MaxBackups: f.MaxBackups,
		MaxAge:     f.MaxAgeDays,
		Compress:   f.Compress,
	}
}

// LoggerConfig configures a named logger. An empty level inherits the root level.
type LoggerConfig struct {
	Level string    `yaml:"level"`
	File  *FileSink `yaml:"file"`
}

// Config is the "logging" configuration section.
//
//	logging:
//	  level: info
//	  loggers:
//	    keeper.ksm.audit:
//	      level: info
//	      file:
//	        path: /var/log/ksm/audit.log
type Config struct {
	Level   string                  `yaml:"level"`
	Format  string                  `yaml:"format"`
	File    *FileSink               `yaml:"file"`
	Loggers map[string]LoggerConfig `yaml:"loggers"`
}

// Validate checks the levels, the format and every sink.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level, zerolog.InfoLevel); err != nil {
		return err
	}
	switch c.Format {
	case "", FormatConsole, FormatJSON:
	default:
		return errors.Errorf("unknown log format %q", c.Format)
	}
	if err := c.File.Validate(); err != nil {
		return errors.Wrap(err, "root logger")
	}
	for name, lc := range c.Loggers {
		if strings.TrimSpace(name) == "" {
			return errors.New("logger name is required")
		}
		if _, err := parseLevel(lc.Level, zerolog.InfoLevel); err != nil {
			return errors.Wrapf(err, "logger %q", name)
		}
		if err := lc.File.Validate(); err != nil {
			return errors.Wrapf(err, "logger %q", name)
		}
	}
	return nil
}

func parseLevel(value string, def zerolog.Level) (zerolog.Level, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil {
		return def, errors.Wrapf(err, "invalid log level %q", value)
	}
	return level, nil
}

type named struct {
	logger  zerolog.Logger
	level   zerolog.Level
	durable bool
}

// Registry holds the configured loggers.
type Registry struct {
	mu          sync.RWMutex
	root        zerolog.Logger
	rootLevel   zerolog.Level
	rootDurable bool
	loggers     map[string]named
	closers     []io.Closer
}

// Configure builds the loggers described by cfg and installs the root logger as the global
// zerolog logger. Console output goes to out, os.Stdout when nil.
func Configure(cfg Config, out io.Writer) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid logging configuration")
	}
	if out == nil {
		out = os.Stdout
	}

	var console io.Writer = out
	if cfg.Format != FormatJSON {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}

	r := &Registry{loggers: make(map[string]named, len(cfg.Loggers))}
	r.rootLevel, _ = parseLevel(cfg.Level, zerolog.InfoLevel)

	rootWriter := console
	if cfg.File != nil {
		sink := cfg.File.writer()
		r.closers = append(r.closers, sink)
		rootWriter = zerolog.MultiLevelWriter(console, sink)
		r.rootDurable = true
	}
	r.root = zerolog.New(rootWriter).Level(r.rootLevel).With().Timestamp().Logger()

	lowest := r.rootLevel
	for name, lc := range cfg.Loggers {
		level, _ := parseLevel(lc.Level, r.rootLevel)
		writer := rootWriter
		durable := r.rootDurable
		if lc.File != nil {
			sink := lc.File.writer()
			r.closers = append(r.closers, sink)
			writer = zerolog.MultiLevelWriter(rootWriter, sink)
			durable = true
		}
		r.loggers[name] = named{
			logger:  zerolog.New(writer).Level(level).With().Timestamp().Str("logger", name).Logger(),
			level:   level,
			durable: durable,
		}
		if level < lowest {
			lowest = level
		}
	}

	zerolog.SetGlobalLevel(lowest)
	log.Logger = r.root
	log.Debug().Int("loggers", len(r.loggers)).Str("level", r.rootLevel.String()).Msg("Logging configured")
	return r, nil
}

// Root returns the root logger.
func (r *Registry) Root() zerolog.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root
}

// Logger returns the named logger, or the root logger tagged with name when none is configured.
func (r *Registry) Logger(name string) zerolog.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.loggers[name]; ok {
		return n.logger
	}
	return r.root.With().Str("logger", name).Logger()
}

// Audit returns the logger for audit events: the first configured recognized audit logger, or
// AuditLogger derived from the root logger.
func (r *Registry) Audit() zerolog.Logger {
	state := r.AuditState()
	if state.Logger != "" {
		return r.Logger(state.Logger)
	}
	return r.Logger(AuditLogger)
}

// AuditState reports the audit logging setup across names, compliance.AuditLoggers when empty.
// The reported logger is the first one at info level or higher, or the first configured one when
// none is. A durable sink on any of them, or on the root logger, counts.
func (r *Registry) AuditState(names ...string) compliance.AuditState {
	if len(names) == 0 {
		names = compliance.AuditLoggers
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	state := compliance.AuditState{DurableSink: r.rootDurable}
	found := false
	for _, name := range names {
		n, ok := r.loggers[name]
		if !ok {
			continue
		}
		state.DurableSink = state.DurableSink || n.durable
		if !found || (!compliance.AuditLevelOK(state.Level) && compliance.AuditLevelOK(n.level)) {
			state.Logger, state.Level, found = name, n.level, true
		}
	}
	return state
}

// Close closes every file sink.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}
