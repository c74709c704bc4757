// Package console provides a standard interface for user- and machine-interface with the console
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/logrusorgru/aurora"
)

// Console represents a standardized interface for console UI. It is designed to abstract:
// - Writing main output
// - Giving information to user
// - Switching between human and machine modes (no colors when output is captured by CI or a script)
//
// Many services log through one Console at the same time, so every write holds the lock
// for the whole message and a message is never interleaved with another one.
type Console struct {
	Color     bool
	IsMachine bool
	Level     Level

	// Out receives log lines. Nil means os.Stderr.
	Out io.Writer

	mu sync.Mutex
}

// Prefixed is a Console view that tags every line with a fixed prefix, usually a service name.
type Prefixed struct {
	console *Console
	prefix  string
}

// WithPrefix returns a logger writing through c with prefix in front of each line.
func (c *Console) WithPrefix(prefix string) *Prefixed {
	return &Prefixed{console: c, prefix: prefix}
}

func (p *Prefixed) Debugf(msg string, v ...interface{}) {
	p.console.logPrefixed(DebugLevel, p.prefix, fmt.Sprintf(msg, v...))
}

func (p *Prefixed) Infof(msg string, v ...interface{}) {
	p.console.logPrefixed(InfoLevel, p.prefix, fmt.Sprintf(msg, v...))
}

func (p *Prefixed) Warnf(msg string, v ...interface{}) {
	p.console.logPrefixed(WarnLevel, p.prefix, fmt.Sprintf(msg, v...))
}

func (p *Prefixed) Errorf(msg string, v ...interface{}) {
	p.console.logPrefixed(ErrorLevel, p.prefix, fmt.Sprintf(msg, v...))
}

// Log writes msg at the given level.
func (p *Prefixed) Log(level Level, msg string) {
	p.console.logPrefixed(level, p.prefix, msg)
}

// Debug prints a verbose debugging message, that is not displayed by default to the user.
func (c *Console) Debug(msg string) {
	c.log(DebugLevel, msg)
}

// Info tells the user what's going on.
func (c *Console) Info(msg string) {
	c.log(InfoLevel, msg)
}

// Warn tells the user that something might break.
func (c *Console) Warn(msg string) {
	c.log(WarnLevel, msg)
}

// Error tells the user that something is broken.
func (c *Console) Error(msg string) {
	c.log(ErrorLevel, msg)
}

// Fatal level message, followed by exit
func (c *Console) Fatal(msg string) {
	c.log(FatalLevel, msg)
	os.Exit(1)
}

// Debug level message
func (c *Console) Debugf(msg string, v ...interface{}) {
	c.log(DebugLevel, fmt.Sprintf(msg, v...))
}

// Info level message
func (c *Console) Infof(msg string, v ...interface{}) {
	c.log(InfoLevel, fmt.Sprintf(msg, v...))
}

// Warn level message
func (c *Console) Warnf(msg string, v ...interface{}) {
	c.log(WarnLevel, fmt.Sprintf(msg, v...))
}

// Error level message
func (c *Console) Errorf(msg string, v ...interface{}) {
	c.log(ErrorLevel, fmt.Sprintf(msg, v...))
}

// Fatal level message, followed by exit
func (c *Console) Fatalf(msg string, v ...interface{}) {
	c.log(FatalLevel, fmt.Sprintf(msg, v...))
	os.Exit(1)
}

// Output a string to stdout. Useful for printing primary output of a command, or the output of a subcommand.
// A newline is added to the string.
func (c *Console) Output(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(os.Stdout, s)
}

func (c *Console) log(level Level, msg string) {
	c.logPrefixed(level, "", msg)
}

func (c *Console) logPrefixed(level Level, prefix string, msg string) {
	if level < c.Level {
		return
	}

	prompt := ""
	color := c.Color && !c.IsMachine

	if color {
		switch level {
		case WarnLevel:
			prompt = aurora.Yellow("⚠ ").String()
		case ErrorLevel, FatalLevel:
			prompt = aurora.Red("ⅹ ").String()
		}
	}

	if prefix != "" {
		if color {
			prefix = aurora.Cyan(prefix).String()
		}
		prefix = "[" + prefix + "] "
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.Out
	if out == nil {
		out = os.Stderr
	}

	for _, line := range strings.Split(msg, "\n") {
		if color && level == DebugLevel {
			line = aurora.Faint(line).String()
		}
		fmt.Fprintln(out, prompt+prefix+line)
	}
}
