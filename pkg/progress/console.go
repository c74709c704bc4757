package progress

import (
	"github.com/steigerbuild/steiger/pkg/util/console"
)

// ConsoleSink writes events as service-prefixed log lines.
type ConsoleSink struct {
	Console *console.Console
}

func NewConsoleSink(c *console.Console) *ConsoleSink {
	if c == nil {
		c = console.ConsoleInstance
	}
	return &ConsoleSink{Console: c}
}

func (s *ConsoleSink) Emit(e Event) {
	switch e.Kind {
	case Progress:
		if e.Total > 0 && e.Current == e.Total {
			s.log(e, console.DebugLevel)
		}
	case Finished:
		s.log(e, console.InfoLevel)
	case Failed:
		s.log(e, console.ErrorLevel)
	default:
		s.log(e, e.Level)
	}
}

func (s *ConsoleSink) log(e Event, level console.Level) {
	if e.Service == "" {
		switch level {
		case console.DebugLevel:
			s.Console.Debug(e.Message)
		case console.WarnLevel:
			s.Console.Warn(e.Message)
		case console.ErrorLevel, console.FatalLevel:
			s.Console.Error(e.Message)
		default:
			s.Console.Info(e.Message)
		}
		return
	}
	s.Console.WithPrefix(e.Service).Log(level, e.Message)
}
