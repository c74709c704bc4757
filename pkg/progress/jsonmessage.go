package progress

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/steigerbuild/steiger/pkg/util/console"
)

// JSONMessageSink renders events the way `docker push` renders layers: one
// line per service, rewritten in place on a terminal.
//
// Each line is erased and rewritten individually (ESC[2K + cursor up/down per
// line), so terminal resizes don't desync the display.
type JSONMessageSink struct {
	mu   sync.Mutex
	pw   *io.PipeWriter
	done chan error
	once sync.Once
}

// NewJSONMessageSink renders to stderr.
func NewJSONMessageSink() *JSONMessageSink {
	return newJSONMessageSink(os.Stderr, os.Stderr.Fd(), console.IsTTY(os.Stderr))
}

func newJSONMessageSink(out io.Writer, fd uintptr, isTTY bool) *JSONMessageSink {
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		done <- jsonmessage.DisplayJSONMessagesStream(pr, out, fd, isTTY, nil)
	}()

	return &JSONMessageSink{
		pw:   pw,
		done: done,
	}
}

func (s *JSONMessageSink) Emit(e Event) {
	if e.Service == "" {
		return
	}

	msg := jsonmessage.JSONMessage{ID: e.Service}
	switch e.Kind {
	case Log:
		// Tool output would scroll the status lines away.
		return
	case Progress:
		msg.Status = e.Message
		msg.Progress = &jsonmessage.JSONProgress{Current: e.Current, Total: e.Total}
	case Failed:
		msg.Status = "FAILED: " + e.Message
	default:
		msg.Status = e.Message
	}
	s.writeMessage(msg)
}

func (s *JSONMessageSink) writeMessage(msg jsonmessage.JSONMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pw == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = s.pw.Write(data)
}

// Close shuts down the display. Safe to call multiple times.
func (s *JSONMessageSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		pw := s.pw
		s.pw = nil
		s.mu.Unlock()

		if pw != nil {
			_ = pw.Close()
			<-s.done
		}
	})
}
