package widget

import (
	"sync"

	"github.com/ashureev/chef-cts/internal/domain"
)

// Log is an in-memory View that keeps rendered lines in order.
type Log struct {
	mu    sync.Mutex
	lines []*LogLine
}

// LogLine is one rendered message.
type LogLine struct {
	log  *Log
	Role domain.Role
	text string
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append renders a new line at the bottom of the log.
func (l *Log) Append(role domain.Role, text string) Element {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := &LogLine{log: l, Role: role, text: text}
	l.lines = append(l.lines, line)
	return line
}

// Texts returns the displayed text of every line.
func (l *Log) Texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	for i, line := range l.lines {
		out[i] = line.text
	}
	return out
}

// Len returns the number of rendered lines.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

// SetText replaces the line's text in place.
func (ll *LogLine) SetText(text string) {
	ll.log.mu.Lock()
	defer ll.log.mu.Unlock()
	ll.text = text
}

// Text returns the line's current text.
func (ll *LogLine) Text() string {
	ll.log.mu.Lock()
	defer ll.log.mu.Unlock()
	return ll.text
}
