package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns a JSON logger for the given environment and process.
// local and dev log at debug level.
func New(appEnv, process string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv, process)
}

func NewWithWriter(w io.Writer, appEnv, process string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	l := slog.New(h)
	if process != "" {
		l = l.With("process", process)
	}
	return l
}

// Discard is used by tests and by components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Component tags a logger with the owning component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

// ForAppointment scopes a logger to one appointment.
func ForAppointment(l *slog.Logger, appointmentID int64) *slog.Logger {
	return l.With("appointment_id", appointmentID)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
