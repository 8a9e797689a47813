package logsink

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// MaxLineBytes bounds how much of a single unterminated line is buffered.
// Longer lines are emitted in MaxLineBytes pieces.
const MaxLineBytes = 1024 * 1024

// LineFunc receives one complete line without its terminator.
type LineFunc func(line string)

// LineWriter turns an arbitrary sequence of byte chunks into complete lines.
// A line split across Write calls is held until its newline arrives; Close
// flushes a trailing unterminated line. Blank lines are dropped.
type LineWriter struct {
	mu     sync.Mutex
	buf    []byte
	emit   LineFunc
	closed bool
}

var _ io.WriteCloser = (*LineWriter)(nil) //nolint:gochecknoglobals // compile-time check

func NewLineWriter(emit LineFunc) *LineWriter {
	return &LineWriter{emit: emit}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = append(w.buf, p...)
			for len(w.buf) >= MaxLineBytes {
				w.emitLine(w.buf[:MaxLineBytes])
				w.buf = append(w.buf[:0], w.buf[MaxLineBytes:]...)
			}
			break
		}

		w.buf = append(w.buf, p[:i]...)
		w.emitLine(w.buf)
		w.buf = w.buf[:0]
		p = p[i+1:]
	}

	return n, nil
}

// Close flushes any buffered partial line. Further writes fail.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.buf) > 0 {
		w.emitLine(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *LineWriter) emitLine(b []byte) {
	for len(b) > MaxLineBytes {
		w.emitString(string(b[:MaxLineBytes]))
		b = b[MaxLineBytes:]
	}
	w.emitString(strings.TrimRight(string(b), "\r"))
}

func (w *LineWriter) emitString(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	w.emit(line)
}
