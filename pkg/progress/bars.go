package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/steigerbuild/steiger/pkg/util/console"
)

// BarSink renders one spinner line per service on an interactive terminal.
// The line shows the current phase and the latest output line.
type BarSink struct {
	progress *mpb.Progress

	// width is how much of a log line fits after the name and timer.
	width int

	mu   sync.Mutex
	bars map[string]*serviceBar
}

type serviceBar struct {
	bar *mpb.Bar

	mu     sync.Mutex
	status string
}

func (b *serviceBar) set(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

func (b *serviceBar) get() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func NewBarSink(out io.Writer) *BarSink {
	width := 60
	if w, err := console.GetWidth(); err == nil && w > 60 {
		width = int(w) - 40
	}
	return &BarSink{
		progress: mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(180*time.Millisecond),
		),
		width: width,
		bars:  map[string]*serviceBar{},
	}
}

func (s *BarSink) Emit(e Event) {
	if e.Service == "" {
		return
	}
	b := s.bar(e.Service)

	switch e.Kind {
	case Started:
		b.set(e.Message)
	case Log:
		if line := strings.TrimSpace(e.Message); line != "" {
			b.set(truncate(line, s.width))
		}
	case Progress:
		if e.Total > 0 {
			b.set(fmt.Sprintf("%s % .1f / % .1f", e.Message, decor.SizeB1024(e.Current), decor.SizeB1024(e.Total)))
		}
	case Finished:
		b.set("✓ " + e.Message)
		b.bar.SetTotal(-1, true)
	case Failed:
		b.set("ⅹ " + truncate(e.Message, s.width))
		b.bar.Abort(false)
	}
}

func (s *BarSink) bar(service string) *serviceBar {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bars[service]; ok {
		return b
	}
	b := &serviceBar{status: "waiting"}
	b.bar = s.progress.New(0,
		mpb.SpinnerStyle(),
		mpb.BarFillerOnComplete(""),
		mpb.PrependDecorators(
			decor.Name(service, decor.WCSyncSpaceR),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string { return b.get() }),
		),
	)
	s.bars[service] = b
	return b
}

// Wait stops the display once every bar is done. Bars still spinning are aborted.
func (s *BarSink) Wait() {
	s.mu.Lock()
	for _, b := range s.bars {
		if !b.bar.Completed() && !b.bar.Aborted() {
			b.bar.Abort(false)
		}
	}
	s.mu.Unlock()
	s.progress.Wait()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
