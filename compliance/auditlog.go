package compliance

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/labiium/pytestlab/internal/labsterr"
	"github.com/labiium/pytestlab/transport/file"
)

// AuditEntry is one append-only audit-log record: who did what, which
// envelope it produced, and when (spec.md §4.7).
type AuditEntry struct {
	Actor      string        `json:"actor"`
	Action     string        `json:"action"`
	EnvelopeID string        `json:"envelope_id"`
	WallClock  time.Time     `json:"wall_clock"`
	Monotonic  time.Duration `json:"monotonic_ns"`
}

// AuditLogConfig controls the on-disk rotation of the audit log.
type AuditLogConfig struct {
	FilePath   string
	MaxBytes   int64
	MaxBackups int
}

// AuditLog is a process-wide, append-only log of audit entries: one
// writer at a time behind a mutex, one canonical JSON line per entry.
// The file is opened when OpenAuditLog is called, not on the first
// Record; Close flushes and closes it, and nothing closes it automatically
// at process exit.
type AuditLog struct {
	mu     sync.Mutex
	w      io.WriteCloser
	logger *slog.Logger
	opened time.Time
}

// OpenAuditLog opens (or creates) the rotating log file at cfg.FilePath.
func OpenAuditLog(cfg AuditLogConfig, logger *slog.Logger) (*AuditLog, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	rf, err := file.NewRotatingFile(file.RotateConfig{
		FilePath:   cfg.FilePath,
		MaxBytes:   cfg.MaxBytes,
		MaxBackups: cfg.MaxBackups,
	}, logger)
	if err != nil {
		return nil, labsterr.NewComplianceError("compliance.OpenAuditLog", labsterr.ComplianceAuditWriteFailed, err)
	}
	return &AuditLog{w: rf, logger: logger, opened: time.Now()}, nil
}

// Record appends one audit entry. A write failure is returned wrapped
// as a ComplianceError — per spec.md §4.7, callers must log it but never
// let it mask an otherwise-successful measurement result.
func (a *AuditLog) Record(actor, action, envelopeID string) error {
	entry := AuditEntry{
		Actor:      actor,
		Action:     action,
		EnvelopeID: envelopeID,
		WallClock:  time.Now(),
		Monotonic:  time.Since(a.opened),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return labsterr.NewComplianceError("compliance.AuditLog.Record", labsterr.ComplianceAuditWriteFailed, err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	_, err = a.w.Write(line)
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("compliance: audit write failed", "error", err.Error(), "actor", actor, "action", action)
		return labsterr.NewComplianceError("compliance.AuditLog.Record", labsterr.ComplianceAuditWriteFailed, err)
	}
	return nil
}

// Close flushes and closes the underlying log file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.w.Close()
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
