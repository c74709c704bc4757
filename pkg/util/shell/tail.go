package shell

import (
	"strings"
	"sync"
)

// tailWriter keeps the last size bytes written to it. Tool stderr can be
// arbitrarily long, and only its end ends up in an ExitError.
type tailWriter struct {
	mu   sync.Mutex
	buf  []byte
	next int
	full bool
}

func newTailWriter(size int) *tailWriter {
	return &tailWriter{buf: make([]byte, size)}
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= len(t.buf) {
		copy(t.buf, p[len(p)-len(t.buf):])
		t.next = 0
		t.full = true
		return len(p), nil
	}
	n := copy(t.buf[t.next:], p)
	if n < len(p) {
		copy(t.buf, p[n:])
		t.full = true
	}
	t.next = (t.next + len(p)) % len(t.buf)
	if t.next == 0 && len(p) > 0 {
		t.full = true
	}
	return len(p), nil
}

// String returns the kept bytes. Once the buffer has wrapped, the partial
// first line is dropped.
func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return string(t.buf[:t.next])
	}
	s := string(t.buf[t.next:]) + string(t.buf[:t.next])
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}
