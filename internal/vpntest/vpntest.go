// Package vpntest contains shared test helpers.
package vpntest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
)

// Logger is a [model.Logger] that records every emitted line.
type Logger struct {
	mu    sync.Mutex
	lines []string
}

var _ model.Logger = &Logger{}

// NewLogger creates a recording [Logger].
func NewLogger() *Logger {
	return &Logger{}
}

// Lines returns a copy of the recorded lines.
func (l *Logger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.lines...)
}

func (l *Logger) emit(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+": "+msg)
}

func (l *Logger) Debug(msg string)               { l.emit("debug", msg) }
func (l *Logger) Debugf(format string, v ...any) { l.emit("debug", fmt.Sprintf(format, v...)) }
func (l *Logger) Info(msg string)                { l.emit("info", msg) }
func (l *Logger) Infof(format string, v ...any)  { l.emit("info", fmt.Sprintf(format, v...)) }
func (l *Logger) Warn(msg string)                { l.emit("warn", msg) }
func (l *Logger) Warnf(format string, v ...any)  { l.emit("warn", fmt.Sprintf(format, v...)) }
func (l *Logger) Error(msg string)               { l.emit("error", msg) }
func (l *Logger) Errorf(format string, v ...any) { l.emit("error", fmt.Sprintf(format, v...)) }

// FakeRunner is a shellx.Runner that records command lines instead of
// executing them, optionally failing those matching a prefix.
type FakeRunner struct {
	mu       sync.Mutex
	commands []string

	// Fail maps a command-line prefix to the error Run returns for it.
	Fail map[string]error
}

// NewFakeRunner creates a recording [FakeRunner].
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// Run implements shellx.Runner.
func (r *FakeRunner) Run(name string, args ...string) error {
	line := strings.Join(append([]string{name}, args...), " ")
	r.mu.Lock()
	r.commands = append(r.commands, line)
	r.mu.Unlock()
	for prefix, err := range r.Fail {
		if strings.HasPrefix(line, prefix) {
			return err
		}
	}
	return nil
}

// Commands returns a copy of the recorded command lines.
func (r *FakeRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.commands...)
}
