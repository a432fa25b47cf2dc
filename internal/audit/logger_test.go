package audit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newBufferedLogger(t *testing.T) (*auditLogger, *syncBuffer) {
	t.Helper()
	sink := &syncBuffer{}
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	l := newLogger(cfg, zap.NewNop(), zapcore.AddSync(sink))
	t.Cleanup(func() { _ = l.Close() })
	return l, sink
}

func TestNewLogger(t *testing.T) {
	tmpDir := t.TempDir()
	config := &Config{
		Path:       filepath.Join(tmpDir, "audit.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   false,
	}

	logger, err := NewLogger(config, nil)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()
	if err := logger.LogDebit(ctx, 42, "gpt-4", 1.5, 198.5); err != nil {
		t.Fatalf("Failed to log event: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Failed to close logger: %v", err)
	}

	data, err := os.ReadFile(config.Path)
	if err != nil {
		t.Fatalf("Audit log not created: %v", err)
	}
	if !strings.Contains(string(data), `ledger.debit`) {
		t.Errorf("audit log missing debit event: %s", data)
	}
}

func TestNewLoggerRequiresPath(t *testing.T) {
	if _, err := NewLogger(&Config{}, nil); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestEventsBufferedUntilSync(t *testing.T) {
	l, sink := newBufferedLogger(t)
	ctx := WithCorrelationID(context.Background(), "turn-1")

	if err := l.LogCredit(ctx, 1, 2, 200, 400); err != nil {
		t.Fatalf("LogCredit: %v", err)
	}
	if sink.String() != "" {
		t.Fatal("expected event to stay buffered before Sync")
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	out := sink.String()
	for _, want := range []string{`"event_type":"ledger.credit"`, `"correlation_id":"turn-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}

func TestBufferFlushesWhenFull(t *testing.T) {
	l, sink := newBufferedLogger(t)
	ctx := context.Background()
	for i := 0; i < bufferSize; i++ {
		if err := l.LogSessionFlushed(ctx, "chat_session_1"); err != nil {
			t.Fatalf("LogSessionFlushed: %v", err)
		}
	}
	if got := strings.Count(sink.String(), "session.flushed"); got < bufferSize {
		t.Errorf("expected %d flushed events, got %d", bufferSize, got)
	}
}

func TestDeniedResults(t *testing.T) {
	l, sink := newBufferedLogger(t)
	ctx := context.Background()
	_ = l.LogCreditDenied(ctx, 7)
	_ = l.LogAdmissionDenied(ctx, 10, 7, 1, 5)
	_ = l.Sync()

	if got := strings.Count(sink.String(), `"result":"denied"`); got != 2 {
		t.Errorf("expected 2 denied events, got %d: %s", got, sink.String())
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Path == "" {
		t.Error("Default Path is empty")
	}
	if config.MaxSize <= 0 {
		t.Error("Default MaxSize should be positive")
	}
	if config.FlushInterval != time.Second {
		t.Errorf("Default FlushInterval = %v", config.FlushInterval)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	if err := l.LogTurnTimeout(context.Background(), 1, 2); err != nil {
		t.Errorf("nop logger returned %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("nop close returned %v", err)
	}
}
