package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger records billing-relevant events to an append-only log.
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Ledger movements
	LogDebit(ctx context.Context, userID int64, model string, amountCents, balanceCents float64) error
	LogCredit(ctx context.Context, adminID, userID int64, amountCents, balanceCents float64) error
	LogCreditDenied(ctx context.Context, callerID int64) error

	// Turn outcomes
	LogAdmissionDenied(ctx context.Context, chatID, userID int64, balanceCents, priceCents float64) error
	LogTurnTimeout(ctx context.Context, chatID, userID int64) error

	// LogSessionFlushed records a cached session written back to the store
	LogSessionFlushed(ctx context.Context, key string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// Path is the audit log file
	Path string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// FlushInterval bounds how long events sit in the buffer
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		Path:          "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        90, // days
		Compress:      true,
		FlushInterval: time.Second,
	}
}

const bufferSize = 100

type correlationKey struct{}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger writing JSON lines to a rotated file.
// appLogger receives the logger's own failures.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}

	rotator := &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	return newLogger(config, appLogger, zapcore.AddSync(rotator)), nil
}

func newLogger(config *Config, appLogger *zap.Logger, sink zapcore.WriteSyncer) *auditLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Audit entries are always INFO level, append-only
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, zapcore.InfoLevel)

	l := &auditLogger{
		appLogger:   appLogger.Named("audit"),
		auditLogger: zap.New(core),
		config:      config,
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(config.FlushInterval),
		stopCh:      make(chan struct{}),
	}
	go l.autoFlush()
	return l
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferSize {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogDebit(ctx context.Context, userID int64, model string, amountCents, balanceCents float64) error {
	event := NewEvent(EventBalanceDebited).
		WithUser(userID).
		WithMoney(amountCents, balanceCents).
		WithMetadata("model", model).
		WithDescription(fmt.Sprintf("Debited %.5f cents from user %d", amountCents, userID))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogCredit(ctx context.Context, adminID, userID int64, amountCents, balanceCents float64) error {
	event := NewEvent(EventBalanceCredited).
		WithActor(adminID).
		WithUser(userID).
		WithMoney(amountCents, balanceCents).
		WithDescription(fmt.Sprintf("Admin %d credited %.5f cents to user %d", adminID, amountCents, userID))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogCreditDenied(ctx context.Context, callerID int64) error {
	event := NewEvent(EventCreditDenied).
		WithActor(callerID).
		WithResult(ResultDenied).
		WithDescription(fmt.Sprintf("User %d attempted an admin credit", callerID))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogAdmissionDenied(ctx context.Context, chatID, userID int64, balanceCents, priceCents float64) error {
	event := NewEvent(EventAdmissionDenied).
		WithChat(chatID).
		WithUser(userID).
		WithMoney(priceCents, balanceCents).
		WithResult(ResultDenied).
		WithDescription("Prompt price exceeds balance")

	return l.Log(ctx, event)
}

func (l *auditLogger) LogTurnTimeout(ctx context.Context, chatID, userID int64) error {
	event := NewEvent(EventTurnTimeout).
		WithChat(chatID).
		WithUser(userID).
		WithResult(ResultFailure).
		WithDescription("Completion timed out, last user message rolled back")

	return l.Log(ctx, event)
}

func (l *auditLogger) LogSessionFlushed(ctx context.Context, key string) error {
	event := NewEvent(EventSessionFlushed).
		WithMetadata("key", key).
		WithDescription(fmt.Sprintf("Session %s written to store", key))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.auditLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})
	return l.Sync()
}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// nopLogger discards every event.
type nopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error                                  { return nil }
func (nopLogger) LogDebit(context.Context, int64, string, float64, float64) error    { return nil }
func (nopLogger) LogCredit(context.Context, int64, int64, float64, float64) error    { return nil }
func (nopLogger) LogCreditDenied(context.Context, int64) error                       { return nil }
func (nopLogger) LogAdmissionDenied(context.Context, int64, int64, float64, float64) error {
	return nil
}
func (nopLogger) LogTurnTimeout(context.Context, int64, int64) error { return nil }
func (nopLogger) LogSessionFlushed(context.Context, string) error    { return nil }
func (nopLogger) Sync() error                                        { return nil }
func (nopLogger) Close() error                                       { return nil }
