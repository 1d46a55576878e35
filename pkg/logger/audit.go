package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// Sink receives security events from the dispatcher goroutine
type Sink interface {
	Name() string
	Write(ctx context.Context, event models.SecurityEvent) error
}

// SecurityLoggerConfig controls buffering
type SecurityLoggerConfig struct {
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration // per sink write
}

// SecurityLogger fans security events out to its sinks on a background goroutine.
// Log never blocks the caller when DropIfFull is set and never returns an error.
type SecurityLogger struct {
	cfg       SecurityLoggerConfig
	logger    *slog.Logger
	sinks     []Sink
	ch        chan models.SecurityEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewSecurityLogger starts the dispatcher. logger is used for sink failures.
func NewSecurityLogger(cfg SecurityLoggerConfig, logger *slog.Logger, sinks ...Sink) *SecurityLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &SecurityLogger{
		cfg:    cfg,
		logger: logger,
		sinks:  sinks,
		ch:     make(chan models.SecurityEvent, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run()

	return l
}

func (l *SecurityLogger) run() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.ch:
			l.dispatch(event)
		case <-l.done:
			for {
				select {
				case event := <-l.ch:
					l.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (l *SecurityLogger) dispatch(event models.SecurityEvent) {
	for _, sink := range l.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
		err := sink.Write(ctx, event)
		cancel()
		if err != nil {
			l.failed.Add(1)
			l.logger.Warn("security event sink failed",
				"sink", sink.Name(),
				"event_type", event.EventType,
				"error", err,
			)
		}
	}
}

// Log queues an event. With DropIfFull unset it waits for buffer space until ctx is done.
func (l *SecurityLogger) Log(ctx context.Context, event models.SecurityEvent) {
	if l == nil || l.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if l.cfg.DropIfFull {
		select {
		case l.ch <- event:
		case <-l.done:
		default:
			l.dropped.Add(1)
		}
		return
	}

	select {
	case l.ch <- event:
	case <-ctx.Done():
		l.dropped.Add(1)
	case <-l.done:
	}
}

// Close stops accepting events and drains the buffer
func (l *SecurityLogger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
		l.wg.Wait()
	})
}

// Dropped is the number of events discarded because the buffer was full
func (l *SecurityLogger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// SinkFailures is the number of failed sink writes
func (l *SecurityLogger) SinkFailures() uint64 {
	if l == nil {
		return 0
	}
	return l.failed.Load()
}

// SlogSink writes events as structured log records
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Name() string { return "slog" }

func (s *SlogSink) Write(ctx context.Context, event models.SecurityEvent) error {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.EventType),
		slog.String("severity", string(event.Severity)),
		slog.String("outcome", event.Outcome),
		slog.String("timestamp", event.CreatedAt.UTC().Format(time.RFC3339)),
	}

	if event.SubjectID != nil {
		attrs = append(attrs, slog.String("subject_id", *event.SubjectID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if len(event.Details) > 0 {
		details := make([]any, 0, len(event.Details)*2)
		for k, v := range event.Details {
			details = append(details, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("details", details...))
	}

	s.logger.LogAttrs(ctx, event.Severity.LogLevel(), "security_event", attrs...)
	return nil
}

// EventStore persists security events
type EventStore interface {
	Insert(ctx context.Context, event models.SecurityEvent) error
}

// StoreSink appends events to an EventStore
type StoreSink struct {
	store EventStore
}

func NewStoreSink(store EventStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Write(ctx context.Context, event models.SecurityEvent) error {
	return s.store.Insert(ctx, event)
}

// SeverityFilter forwards only events at or above Min
type SeverityFilter struct {
	Min  models.Severity
	Next Sink
}

func (f SeverityFilter) Name() string { return f.Next.Name() }

func (f SeverityFilter) Write(ctx context.Context, event models.SecurityEvent) error {
	if event.Severity.Rank() < f.Min.Rank() {
		return nil
	}
	return f.Next.Write(ctx, event)
}
