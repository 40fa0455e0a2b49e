package ecs

// Command represents a deferred mutation applied outside system execution.
type Command interface {
	Apply(world *World) error
}

// CommandFunc adapts a function to the Command interface.
type CommandFunc func(world *World) error

func (f CommandFunc) Apply(world *World) error { return f(world) }

// Logger captures structured log output from the world and its schedules.
type Logger interface {
	With(key string, value any) Logger
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything. It is the default logger of a world.
func NopLogger() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) With(string, any) Logger { return noopLogger{} }
func (noopLogger) Debug(string, ...any)    {}
func (noopLogger) Info(string, ...any)     {}
func (noopLogger) Warn(string, ...any)     {}
func (noopLogger) Error(string, ...any)    {}

// FromWorld is implemented by *T when a Local[T] or an initialized resource must be built from the world.
type FromWorld interface {
	FromWorld(w *World)
}

var (
	_ Command = CommandFunc(nil)
	_ Logger  = noopLogger{}
)
