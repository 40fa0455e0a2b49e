// Package logging adapts zap and zerolog loggers to ecs.Logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	ecs "github.com/DangerosoDavo/archecs"
)

// Backends accepted by Options.Backend.
const (
	BackendZap     = "zap"
	BackendZerolog = "zerolog"
)

// Formats accepted by Options.Format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// ErrUnknownBackend is returned by New for a backend other than zap or zerolog.
var ErrUnknownBackend = eris.New("unknown logging backend")

// Options selects the backend, level and output format of a logger built by New.
type Options struct {
	Level   string
	Format  string
	Backend string
	// Writer receives zerolog output. Defaults to stderr. The zap backend always writes to stderr.
	Writer io.Writer
}

// New builds an ecs.Logger. An unparsable level falls back to info.
func New(opts Options) (ecs.Logger, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendZap:
		l, err := newZap(opts)
		if err != nil {
			return nil, eris.Wrap(err, "build zap logger")
		}
		return NewZap(l), nil
	case BackendZerolog:
		return NewZerolog(newZerolog(opts)), nil
	default:
		return nil, eris.Wrapf(ErrUnknownBackend, "%q", opts.Backend)
	}
}

func newZap(opts Options) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var cfg zap.Config
	if opts.Format == FormatJSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.EncoderConfig.ConsoleSeparator = "  "
		cfg.DisableCaller = true
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}

func newZerolog(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := opts.Writer
	if out == nil {
		out = os.Stderr
	}
	if opts.Format != FormatJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// NewZap wraps l. Log arguments are alternating keys and values.
func NewZap(l *zap.Logger) ecs.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return zapLogger{s: l.Sugar()}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) With(key string, value any) ecs.Logger {
	return zapLogger{s: l.s.With(key, value)}
}

func (l zapLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l zapLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l zapLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l zapLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

// NewZerolog wraps l. Log arguments are alternating keys and values.
func NewZerolog(l zerolog.Logger) ecs.Logger {
	return zerologLogger{l: l}
}

type zerologLogger struct {
	l zerolog.Logger
}

func (l zerologLogger) With(key string, value any) ecs.Logger {
	return zerologLogger{l: l.l.With().Interface(key, value).Logger()}
}

func (l zerologLogger) Debug(msg string, args ...any) { send(l.l.Debug(), msg, args) }
func (l zerologLogger) Info(msg string, args ...any)  { send(l.l.Info(), msg, args) }
func (l zerologLogger) Warn(msg string, args ...any)  { send(l.l.Warn(), msg, args) }
func (l zerologLogger) Error(msg string, args ...any) { send(l.l.Error(), msg, args) }

func send(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		if i+1 == len(args) {
			e = e.Interface(key, nil)
			break
		}
		if err, isErr := args[i+1].(error); isErr {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}

var (
	_ ecs.Logger = zapLogger{}
	_ ecs.Logger = zerologLogger{}
)
