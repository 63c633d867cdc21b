// Package obslog is the core's logging surface: a thin wrapper around
// logrus configured to emit spec.md §7's exact wire contract
// (`ERROR: <message>` / `WARN: <message>` / `INFO: <message>` on
// stderr), plus the counting and per-tip suppression behavior the error
// taxonomy in §7 requires.
package obslog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// wireFormatter renders every entry as "<LEVEL>: <message>\n", the exact
// contract spec.md §7 specifies and that downstream tooling greps for.
type wireFormatter struct{}

var levelWord = map[logrus.Level]string{
	logrus.ErrorLevel: "ERROR",
	logrus.WarnLevel:  "WARN",
	logrus.InfoLevel:  "INFO",
	logrus.DebugLevel: "DEBUG",
	logrus.FatalLevel: "ERROR",
	logrus.PanicLevel: "ERROR",
}

func (f *wireFormatter) Format(e *logrus.Entry) ([]byte, error) {
	word, ok := levelWord[e.Level]
	if !ok {
		word = strings.ToUpper(e.Level.String())
	}
	var b strings.Builder
	b.WriteString(word)
	b.WriteString(": ")
	b.WriteString(e.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// Mode selects how the Logger reacts to ERROR-level events.
type Mode int

const (
	// FailFast sets Interrupted on the first ERROR and that error
	// becomes the final return (spec.md §7).
	FailFast Mode = iota
	// KeepGoing reports every ERROR and only exits non-zero after all
	// work has completed.
	KeepGoing
)

// Logger wraps a *logrus.Logger with the counters and suppression state
// spec.md §7's propagation rules require.
type Logger struct {
	raw  *logrus.Logger
	mode Mode

	mu          sync.Mutex
	errorCount  int
	warnCount   int
	interrupted bool
	firstError  error
	suppressed  map[string]struct{} // dedup key -> seen, for per-tip warning suppression
}

// New constructs a Logger writing the wire-format contract to out (stderr
// in production) at mode.
func New(out io.Writer, mode Mode) *Logger {
	raw := logrus.New()
	raw.SetOutput(out)
	raw.SetFormatter(&wireFormatter{})
	raw.SetLevel(logrus.DebugLevel)
	return &Logger{raw: raw, mode: mode, suppressed: make(map[string]struct{})}
}

// NewStderr is the common case: a Logger writing to os.Stderr.
func NewStderr(mode Mode) *Logger {
	return New(os.Stderr, mode)
}

// Context returns a child logger that prefixes every message with a
// context chain, matching spec.md §7's example:
// "Fetching `<name>`: `git fetch <url>` failed: …".
func (l *Logger) Context(format string, a ...any) *Context {
	return &Context{logger: l, prefix: fmt.Sprintf(format, a...)}
}

// Error logs an ERROR-level event, incrementing the error counter and
// honoring Mode: in FailFast, the first Error call records Interrupted.
func (l *Logger) Error(err error) {
	l.mu.Lock()
	l.errorCount++
	if l.firstError == nil {
		l.firstError = err
	}
	if l.mode == FailFast {
		l.interrupted = true
	}
	l.mu.Unlock()
	l.raw.Error(err.Error())
}

// Warn logs a WARN-level event. If key is non-empty, repeated calls with
// the same key after the first are suppressed entirely — the "warn once
// per branch tip, not per commit" discipline spec.md §4.4 step 5 and §7
// require.
func (l *Logger) Warn(key, format string, a ...any) {
	l.mu.Lock()
	if key != "" {
		if _, seen := l.suppressed[key]; seen {
			l.mu.Unlock()
			return
		}
		l.suppressed[key] = struct{}{}
	}
	l.warnCount++
	l.mu.Unlock()
	l.raw.Warn(fmt.Sprintf(format, a...))
}

// Info logs an INFO-level event.
func (l *Logger) Info(format string, a ...any) {
	l.raw.Info(fmt.Sprintf(format, a...))
}

// Interrupted reports whether a fatal condition has already been
// recorded (FailFast mode only; always false in KeepGoing mode).
func (l *Logger) Interrupted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interrupted
}

// Counts returns the number of ERROR and WARN events logged so far.
func (l *Logger) Counts() (errors, warnings int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errorCount, l.warnCount
}

// ExitCode derives the process exit code from spec.md §6: 0 on success,
// 1 if any ERROR was logged.
func (l *Logger) ExitCode() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errorCount > 0 {
		return 1
	}
	return 0
}

// Context chains a message prefix onto every log call, building the
// nested "A: B: C" shape spec.md §7 requires for error propagation.
type Context struct {
	logger *Logger
	prefix string
}

// Context further nests a prefix under this one.
func (c *Context) Context(format string, a ...any) *Context {
	return &Context{logger: c.logger, prefix: c.prefix + ": " + fmt.Sprintf(format, a...)}
}

// Errorf logs an ERROR event with this context's prefix chained on, and
// returns the constructed error for the caller to propagate.
func (c *Context) Errorf(format string, a ...any) error {
	err := fmt.Errorf("%s: %s", c.prefix, fmt.Sprintf(format, a...))
	c.logger.Error(err)
	return err
}

// Warn logs a WARN event with this context's prefix chained on.
func (c *Context) Warn(key, format string, a ...any) {
	msg := c.prefix + ": " + fmt.Sprintf(format, a...)
	fullKey := key
	if fullKey != "" {
		fullKey = c.prefix + "\x00" + key
	}
	c.logger.Warn(fullKey, "%s", msg)
}

// Info logs an INFO event with this context's prefix chained on.
func (c *Context) Info(format string, a ...any) {
	c.logger.Info("%s: %s", c.prefix, fmt.Sprintf(format, a...))
}
