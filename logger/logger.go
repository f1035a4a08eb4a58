/*
Package logger is the ledger's structured logger, built on zerolog.

CONTEXT FIELDS:
  Fields travel in the context.Context as an immutable list; every log
  call renders them onto the event. The HTTP layer adds request_id, the
  ledger adds actor and sale_id, so one request's lines share the same
  keys without threading a logger through every call.

  ctx = log.WithRequestID(ctx, id)
  ctx = log.WithSale(ctx, saleID)
  log.Info(ctx, "sale recorded")

STACKS:
  Options.Stacks attaches a stack trace to warnings and errors.

A nil *Logger discards everything, so optional logging needs no checks.
*/
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	Service string
	Level   string // zerolog level name; empty or unknown means info
	Format  string // "json" (default) or "console"
	Stacks  bool
	Output  io.Writer
}

// Logger writes leveled JSON lines.
type Logger struct {
	base   zerolog.Logger
	stacks bool
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(out).
		Level(parseLevel(opts.Level)).
		With().Timestamp().Str("service", opts.Service).
		Logger()
	return &Logger{base: base, stacks: opts.Stacks}
}

// Nop returns a logger that writes nothing.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// =============================================================================
// CONTEXT FIELDS
// =============================================================================

type field struct {
	key   string
	value any
}

type fieldsKey struct{}

func fieldsFrom(ctx context.Context) []field {
	if ctx == nil {
		return nil
	}
	fs, _ := ctx.Value(fieldsKey{}).([]field)
	return fs
}

// With returns ctx carrying fields in addition to those already present.
// Keys are rendered in sorted order for stable output.
func (l *Logger) With(ctx context.Context, fields map[string]any) context.Context {
	if l == nil || len(fields) == 0 {
		return ctx
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	prev := fieldsFrom(ctx)
	next := make([]field, len(prev), len(prev)+len(keys))
	copy(next, prev)
	for _, k := range keys {
		next = append(next, field{key: k, value: fields[k]})
	}
	return context.WithValue(ctx, fieldsKey{}, next)
}

func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	return l.With(ctx, map[string]any{"request_id": id})
}

// WithActor tags the caller of a rate change.
func (l *Logger) WithActor(ctx context.Context, actor string) context.Context {
	return l.With(ctx, map[string]any{"actor": actor})
}

func (l *Logger) WithSale(ctx context.Context, id uint64) context.Context {
	return l.With(ctx, map[string]any{"sale_id": id})
}

// =============================================================================
// EVENTS
// =============================================================================

func (l *Logger) Info(ctx context.Context, msg string) {
	if l == nil {
		return
	}
	l.emit(ctx, l.base.Info(), msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	if l == nil {
		return
	}
	l.emit(ctx, l.withStack(l.base.Warn()), msg)
}

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	if l == nil {
		return
	}
	l.emit(ctx, l.withStack(l.base.Error().Err(err)), msg)
}

func (l *Logger) emit(ctx context.Context, ev *zerolog.Event, msg string) {
	for _, f := range fieldsFrom(ctx) {
		ev = ev.Interface(f.key, f.value)
	}
	ev.Msg(msg)
}

func (l *Logger) withStack(ev *zerolog.Event) *zerolog.Event {
	if !l.stacks {
		return ev
	}
	return ev.Str("stack", strings.TrimSpace(string(debug.Stack())))
}
