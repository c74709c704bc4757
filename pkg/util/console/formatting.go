package console

import (
	"time"

	"github.com/xeonx/timeago"
)

// FormatTime renders t relative to now, e.g. "3 minutes ago".
func FormatTime(t time.Time) string {
	return timeago.English.Format(t)
}

// FormatDuration rounds d for humans.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
