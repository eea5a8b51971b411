// Package event defines the out-of-band notifications the engine emits:
// cache diagnostics, referential-integrity warnings and background
// maintenance failures.
package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Event codes.
const (
	CodeCacheHit    = "cache_hit"
	CodeCacheMiss   = "cache_miss"
	CodeCacheError  = "cache_error"
	CodeCorruptData = "corrupt_data"

	// CodeMaintenanceFailed reports a background relationship or index
	// update that did not complete.
	CodeMaintenanceFailed = "maintenance_failed"
)

// Event is a single notification.
type Event struct {
	Kind    Kind
	Code    string
	Message string

	// TxnID identifies the transaction that emitted the event.
	TxnID string

	Scope string
	Type  string
	ID    string

	Err  error
	Time time.Time
}

// Sink receives events. Broadcast must not block for long; it is called
// from request paths and background workers alike.
type Sink interface {
	Broadcast(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Broadcast(e Event) { f(e) }

// Multi fans events out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Broadcast(e)
		}
	})
}

// LogSink writes events to a slog.Logger: info at Debug, warning at Warn
// and error at Error.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Broadcast(e Event) {
	level := slog.LevelDebug
	switch e.Kind {
	case KindWarning:
		level = slog.LevelWarn
	case KindError:
		level = slog.LevelError
	}

	attrs := []any{"code", e.Code}
	if e.TxnID != "" {
		attrs = append(attrs, "txn", e.TxnID)
	}
	if e.Scope != "" {
		attrs = append(attrs, "scope", e.Scope)
	}
	if e.Type != "" {
		attrs = append(attrs, "type", e.Type, "id", e.ID)
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}
	s.logger.Log(context.Background(), level, e.Message, attrs...)
}

// Recorder keeps every event in memory. Useful in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Broadcast(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByCode returns the recorded events with the given code.
func (r *Recorder) ByCode(code string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
