package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"hearthwork.ai/internal/sim/project"
)

// JSONLZstdWriter appends one JSON document per line to an hourly zstd
// file under baseDir named prefix-YYYY-MM-DD-HH.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines through the compressor to the current file.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Entry is one logged lifecycle event.
type Entry struct {
	RunID string `json:"run_id"`
	project.Event
}

// EventLog is a project.EventSink writing every event to runDir/events.
// Write errors go to the logger; the engine never sees them.
type EventLog struct {
	runID  string
	w      *JSONLZstdWriter
	logger *stdlog.Logger

	mu     sync.Mutex
	failed int
}

func NewEventLog(runDir, runID string, logger *stdlog.Logger) *EventLog {
	return &EventLog{
		runID:  runID,
		w:      NewJSONLZstdWriter(filepath.Join(runDir, "events"), "events"),
		logger: logger,
	}
}

func (l *EventLog) Emit(ev project.Event) {
	if err := l.w.Write(Entry{RunID: l.runID, Event: ev}); err != nil {
		l.mu.Lock()
		l.failed++
		n := l.failed
		l.mu.Unlock()
		// First failure, then every thousandth.
		if l.logger != nil && (n == 1 || n%1000 == 0) {
			l.logger.Printf("event log: %v (failures=%d)", err, n)
		}
	}
}

func (l *EventLog) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

func (l *EventLog) Flush() error { return l.w.Flush() }
func (l *EventLog) Close() error { return l.w.Close() }
