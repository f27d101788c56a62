// Package fixlog appends raw gpsd fix reports to a per-session JSON Lines
// file.
package fixlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FileLayout names session files by the first fix's UTC time.
const FileLayout = "2006-01-02_15-04-05"

var ErrClosed = errors.New("fixlog: writer closed")

// Writer is safe for concurrent use. The file is created on the first
// Append so a run that never gets a fix leaves nothing behind. Every line
// is handed to the OS as it is appended; Flush only forces it to storage.
type Writer struct {
	dir string
	log zerolog.Logger

	mu     sync.Mutex
	f      *os.File
	path   string
	lines  int
	closed bool
}

func NewWriter(dir string, logger zerolog.Logger) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, log: logger.With().Str("component", "fixlog").Logger()}
}

// Path returns the session file path, or "" before the first Append.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Lines returns how many reports were appended this session.
func (w *Writer) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Append writes raw as one line. fixTime names the file when this is the
// first line of the session.
func (w *Writer) Append(fixTime time.Time, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Errorf("fixlog: compact report: %w", err)
	}
	buf.WriteByte('\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.f == nil {
		if err := w.openLocked(fixTime); err != nil {
			return err
		}
	}
	if _, err := w.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("fixlog: write %s: %w", w.path, err)
	}
	w.lines++
	return nil
}

func (w *Writer) openLocked(fixTime time.Time) error {
	if fixTime.IsZero() {
		fixTime = time.Now()
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("fixlog: create dir: %w", err)
	}
	path := filepath.Join(w.dir, fixTime.UTC().Format(FileLayout)+".json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("fixlog: open: %w", err)
	}
	w.f = f
	w.path = path
	w.log.Info().Str("path", path).Msg("opened fix log")
	return nil
}

// Flush syncs the file data to storage.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.f == nil {
		return nil
	}
	if err := datasync(w.f); err != nil {
		return fmt.Errorf("fixlog: sync %s: %w", w.path, err)
	}
	return nil
}

// Close flushes and closes the file. Further Appends fail with ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.f == nil {
		return nil
	}
	err := w.flushLocked()
	if cerr := w.f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("fixlog: close %s: %w", w.path, cerr)
	}
	w.log.Info().Str("path", w.path).Int("lines", w.lines).Msg("closed fix log")
	w.f = nil
	return err
}
