package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

// Options configures the zerolog adapter.
type Options struct {
	Writer io.Writer
	// Level is one of debug, info, warn, error. Empty means info.
	Level         string
	HumanReadable bool
	// Component is attached to every entry as the "component" field.
	Component string
}

// Logger implements ports.Logger on top of zerolog. Key/value pairs passed at
// the call site override pairs bound with With.
type Logger struct {
	base  zerolog.Logger
	bound []field
}

type field struct {
	key   string
	value interface{}
}

// New creates a Logger writing JSON lines, or console output when
// HumanReadable is set.
func New(opts Options) (*Logger, error) {
	out := opts.Writer
	if out == nil {
		out = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	if opts.HumanReadable {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	l := &Logger{base: zerolog.New(out).Level(level).With().Timestamp().Logger()}
	if opts.Component != "" {
		l.bound = []field{{key: "component", value: opts.Component}}
	}
	return l, nil
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.ErrorLevel, msg, fields)
}

// With derives a logger carrying the extra key/value pairs.
func (l *Logger) With(fields ...interface{}) ports.Logger {
	if l == nil {
		return &NoOpLogger{}
	}
	return &Logger{base: l.base, bound: merge(l.bound, pairs(fields))}
}

func (l *Logger) log(ctx context.Context, level zerolog.Level, msg string, fields []interface{}) {
	if l == nil {
		return
	}
	event := l.base.WithLevel(level)
	if event == nil {
		return
	}
	all := merge(l.bound, pairs(fields))
	if id := ports.GetCorrelationID(ctx); id != "" {
		all = merge(all, []field{{key: "correlation_id", value: id}})
	}
	for _, f := range all {
		event = appendField(event, f)
	}
	event.Msg(msg)
}

func appendField(event *zerolog.Event, f field) *zerolog.Event {
	switch v := f.value.(type) {
	case error:
		return event.AnErr(f.key, v)
	case time.Duration:
		return event.Dur(f.key, v)
	case string:
		return event.Str(f.key, v)
	case int:
		return event.Int(f.key, v)
	case int64:
		return event.Int64(f.key, v)
	case uint64:
		return event.Uint64(f.key, v)
	case bool:
		return event.Bool(f.key, v)
	case fmt.Stringer:
		return event.Stringer(f.key, v)
	default:
		return event.Interface(f.key, v)
	}
}

// pairs turns a flat key/value list into fields. Pairs with a non-string or
// empty key are dropped, as is a trailing key without a value.
func pairs(kv []interface{}) []field {
	out := make([]field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok || key == "" {
			continue
		}
		out = append(out, field{key: key, value: kv[i+1]})
	}
	return out
}

// merge keeps first-seen key order; later values win.
func merge(base, next []field) []field {
	if len(next) == 0 {
		return base
	}
	out := make([]field, len(base), len(base)+len(next))
	copy(out, base)
	for _, f := range next {
		replaced := false
		for i := range out {
			if out[i].key == f.key {
				out[i].value = f.value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return out
}

var _ ports.Logger = (*Logger)(nil)
