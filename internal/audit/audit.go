// Package audit records security-relevant pipeline events.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/insight-query/internal/logging"
)

// Kind identifies what happened
type Kind string

const (
	KindSecurityRejection     Kind = "security_rejection"
	KindCorrectionAttempt     Kind = "correction_attempt"
	KindPlanGenerated         Kind = "plan_generated"
	KindPostValidationFailure Kind = "post_validation_failure"
	KindExecutionCorrection   Kind = "execution_correction"
)

// Severity ranks events for alerting
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single audit record
type Event struct {
	ID             string
	RequestID      string
	Timestamp      time.Time
	CallerIdentity string
	Kind           Kind
	Severity       Severity
	Detail         string
	Fields         map[string]string
}

// Sink receives audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, event Event)
}

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx so every event of the request shares it
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id carried by ctx, if any
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewRequestID returns a fresh random request id
func NewRequestID() string {
	return uuid.NewString()
}

// NewEvent fills in id, timestamp and request id
func NewEvent(ctx context.Context, kind Kind, severity Severity, identity, detail string) Event {
	return Event{
		ID:             uuid.NewString(),
		RequestID:      RequestID(ctx),
		Timestamp:      time.Now().UTC(),
		CallerIdentity: identity,
		Kind:           kind,
		Severity:       severity,
		Detail:         detail,
	}
}

// With returns a copy of the event with an extra field
func (e Event) With(key, value string) Event {
	fields := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}

	fields[key] = value
	e.Fields = fields

	return e
}

// LoggerSink writes events through the structured logger
type LoggerSink struct {
	logger *logging.Logger
}

// NewLoggerSink creates a sink on logger, or on the global logger when nil
func NewLoggerSink(logger *logging.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Record implements Sink
func (s *LoggerSink) Record(_ context.Context, e Event) {
	logger := s.logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	fields := map[string]interface{}{
		"audit_id":   e.ID,
		"request_id": e.RequestID,
		"caller":     e.CallerIdentity,
		"kind":       string(e.Kind),
		"severity":   string(e.Severity),
	}
	for k, v := range e.Fields {
		fields[k] = v
	}

	l := logger.WithFields(fields)

	switch e.Severity {
	case SeverityCritical:
		l.Error("audit: " + e.Detail)
	case SeverityWarning:
		l.Warn("audit: " + e.Detail)
	default:
		l.Info("audit: " + e.Detail)
	}
}

// MemorySink keeps events in memory for inspection
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements Sink
func (s *MemorySink) Record(_ context.Context, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
}

// Events returns a copy of the recorded events in arrival order
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Event(nil), s.events...)
}

// Count returns how many events of kind were recorded
func (s *MemorySink) Count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}

	return n
}

// Kinds returns the distinct kinds recorded, sorted
func (s *MemorySink) Kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[Kind]bool)
	for _, e := range s.events {
		seen[e.Kind] = true
	}

	kinds := make([]Kind, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}

// Reset discards all recorded events
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
}

// MultiSink fans events out to several sinks
type MultiSink []Sink

// Record implements Sink
func (m MultiSink) Record(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, e)
		}
	}
}

// Discard drops every event
type Discard struct{}

// Record implements Sink
func (Discard) Record(context.Context, Event) {}
