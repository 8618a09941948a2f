// Package logwriter persists trip logs: one append-only file of COBS frames
// per trip.
package logwriter

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/overtake.report/internal/fsutil"
)

// bufferSize is the write buffer in front of the file.
const bufferSize = 64 * 1024

// FileNameLayout is the time layout of trip log names.
const FileNameLayout = "trip_20060102_150405.bin"

// ErrClosed is returned by Append after Close or after a failed write.
var ErrClosed = errors.New("logwriter: closed")

// Writer appends frames to one trip log. Appends and Close are serialised,
// so an in-flight append always completes before the file is closed.
type Writer struct {
	mu      sync.Mutex
	file    fsutil.File
	buf     *bufio.Writer
	path    string
	written int64
	closed  bool
	err     error
}

// FileName returns the log file name for a trip started at t.
func FileName(t time.Time) string {
	return t.UTC().Format(FileNameLayout)
}

// maxNameAttempts bounds the numbered names tried for trips started within
// the same second.
const maxNameAttempts = 100

// Create opens a new trip log in dir, creating dir if needed. An existing
// log is never overwritten: when the name for now is taken, the next free
// name with a numeric suffix (trip_20060102_150405_2.bin, ...) is used.
func Create(fs fsutil.FileSystem, dir string, now time.Time) (*Writer, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	path, err := freePath(fs, dir, now)
	if err != nil {
		return nil, err
	}
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trip log: %w", err)
	}
	return &Writer{
		file: f,
		buf:  bufio.NewWriterSize(f, bufferSize),
		path: path,
	}, nil
}

func freePath(fs fsutil.FileSystem, dir string, now time.Time) (string, error) {
	base := FileName(now)
	path := filepath.Join(dir, base)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for n := 2; fs.Exists(path); n++ {
		if n > maxNameAttempts {
			return "", fmt.Errorf("create trip log: no free name for %s in %s", base, dir)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.bin", stem, n))
	}
	return path, nil
}

// Path returns the path of the log file.
func (w *Writer) Path() string { return w.path }

// BytesWritten returns the number of bytes accepted by Append.
func (w *Writer) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Append writes p in full or returns an error. After the first write error
// the file is closed and every later Append returns ErrClosed.
//
// Buffered frames are flushed on their own before a p that does not fit, so
// p never shares a file write with earlier frames.
func (w *Writer) Append(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if len(p) == 0 {
		return nil
	}
	if len(p) > w.buf.Available() && w.buf.Buffered() > 0 {
		if err := w.buf.Flush(); err != nil {
			w.err = fmt.Errorf("append to %s: %w", w.path, err)
			w.closeLocked()
			return w.err
		}
	}
	if _, err := w.buf.Write(p); err != nil {
		w.err = fmt.Errorf("append to %s: %w", w.path, err)
		w.closeLocked()
		return w.err
	}
	w.written += int64(len(p))
	return nil
}

// Flush pushes buffered frames to the file and syncs it.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", w.path, err)
	}
	return nil
}

// Close flushes, syncs and closes the file. Calling Close again returns the
// result of the first call.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.err
	}
	if err := w.buf.Flush(); err != nil {
		w.err = fmt.Errorf("flush %s: %w", w.path, err)
	} else if err := w.file.Sync(); err != nil {
		w.err = fmt.Errorf("sync %s: %w", w.path, err)
	}
	if err := w.closeLocked(); err != nil && w.err == nil {
		w.err = err
	}
	return w.err
}

func (w *Writer) closeLocked() error {
	w.closed = true
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}
