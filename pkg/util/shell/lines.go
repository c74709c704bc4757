package shell

import (
	"bytes"
	"sync"
)

// LineWriter is an io.Writer that calls fn once per complete line written to it.
type LineWriter struct {
	fn  func(line string)
	buf []byte
	mu  sync.Mutex
}

func NewLineWriter(fn func(line string)) *LineWriter {
	return &LineWriter{fn: fn}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(w.buf[:i], []byte{'\r'})
		w.fn(string(line))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line that was not newline terminated.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.fn(string(w.buf))
		w.buf = nil
	}
}
