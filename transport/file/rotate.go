// Package file provides size-based rotation for append-only on-disk logs,
// compressing each rotated segment with zstd as it is sealed off.
//
// When a write would take the active file past MaxBytes, it is first renamed with a
// numeric suffix (e.g. audit.jsonl → audit.jsonl.1), compressed in place to
// audit.jsonl.1.zst, and a fresh active file is opened. Up to MaxBackups
// compressed backups are kept; older ones are removed.
//
// RotatingFile satisfies io.Writer and io.Closer so it can be used directly
// as the backing writer of an append-only log (see compliance/auditlog.go).
package file

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// RotateConfig controls log rotation behavior.
type RotateConfig struct {
	// FilePath is the active file name (required).
	FilePath string

	// MaxBytes triggers rotation before a write that would make the active
	// file exceed this size.
	// Zero disables rotation (the file grows without bound).
	MaxBytes int64

	// MaxBackups is the number of rotated, compressed segments to keep.
	// Zero means keep all rotated segments.
	MaxBackups int
}

// RotatingFile is an io.WriteCloser that performs size-based rotation,
// compressing each sealed-off segment with zstd. It is safe for
// concurrent use.
type RotatingFile struct {
	mu     sync.Mutex
	cfg    RotateConfig
	file   *os.File
	size   int64
	logger *slog.Logger
}

// NewRotatingFile opens (or creates) the file at cfg.FilePath and returns a
// RotatingFile writer. The caller must call Close when finished.
func NewRotatingFile(cfg RotateConfig, logger *slog.Logger) (*RotatingFile, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("transport/file: rotate: FilePath is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transport/file: rotate: mkdir %s: %w", dir, err)
	}

	rf := &RotatingFile{cfg: cfg, logger: logger}
	if err := rf.openFile(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Write implements io.Writer. It rotates the file when MaxBytes is exceeded.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.cfg.MaxBytes > 0 && rf.size+int64(len(p)) > rf.cfg.MaxBytes {
		if err := rf.rotate(); err != nil {
			rf.logger.Error("transport/file: rotate failed", "error", err.Error())
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file != nil {
		return rf.file.Close()
	}
	return nil
}

func (rf *RotatingFile) openFile() error {
	f, err := os.OpenFile(rf.cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("transport/file: rotate: open %s: %w", rf.cfg.FilePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("transport/file: rotate: stat %s: %w", rf.cfg.FilePath, err)
	}
	rf.file = f
	rf.size = info.Size()
	return nil
}

// rotate seals the active file off as a numbered, zstd-compressed backup
// and opens a fresh active file.
//
// Rotation scheme:
//
//	audit.jsonl       → audit.jsonl.1.zst
//	audit.jsonl.1.zst → audit.jsonl.2.zst
//	...
//	audit.jsonl.N.zst → removed if N > MaxBackups
func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			rf.logger.Warn("transport/file: rotate: close error", "error", err.Error())
		}
		rf.file = nil
	}

	base := rf.cfg.FilePath

	limit := rf.cfg.MaxBackups
	if limit == 0 {
		limit = rf.findMaxBackup()
	}
	for i := limit; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d.zst", base, i)
		dst := fmt.Sprintf("%s.%d.zst", base, i+1)
		_ = os.Rename(src, dst) // ignore error if src doesn't exist
	}

	sealed := base + ".1"
	if err := os.Rename(base, sealed); err != nil && !os.IsNotExist(err) {
		rf.logger.Warn("transport/file: rotate: rename error", "error", err.Error())
	} else if err == nil {
		if err := compressAndRemove(sealed); err != nil {
			rf.logger.Warn("transport/file: rotate: compress error", "error", err.Error())
		}
	}

	if rf.cfg.MaxBackups > 0 {
		rf.prune()
	}

	rf.logger.Info("transport/file: rotated", "file", base)

	rf.size = 0
	return rf.openFile()
}

// compressAndRemove zstd-compresses src to src+".zst" and removes src.
func compressAndRemove(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("transport/file: compress: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(src + ".zst")
	if err != nil {
		return fmt.Errorf("transport/file: compress: create %s.zst: %w", src, err)
	}

	enc, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		return fmt.Errorf("transport/file: compress: new encoder: %w", err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return fmt.Errorf("transport/file: compress: copy: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("transport/file: compress: close encoder: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("transport/file: compress: close output: %w", err)
	}
	return os.Remove(src)
}

// findMaxBackup returns the highest numbered compressed backup that
// currently exists.
func (rf *RotatingFile) findMaxBackup() int {
	base := rf.cfg.FilePath
	max := 0
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s.%d.zst", base, i)
		if _, err := os.Stat(name); os.IsNotExist(err) {
			break
		}
		max = i
	}
	return max
}

// prune removes compressed backups beyond MaxBackups.
func (rf *RotatingFile) prune() {
	base := rf.cfg.FilePath
	for i := rf.cfg.MaxBackups + 1; ; i++ {
		name := fmt.Sprintf("%s.%d.zst", base, i)
		if err := os.Remove(name); err != nil {
			break
		}
		rf.logger.Debug("transport/file: pruned old backup", "file", name)
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
