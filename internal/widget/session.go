// Package widget models the browser chat widget: a message log with a
// transient "thinking" placeholder, driven by one relay request per send.
//
// The embedded web/dist/chat.js implements the same behavior for browsers;
// this package is the Go rendition for tests, tooling and other Go front ends.
package widget

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ashureev/chef-cts/internal/domain"
)

// Texts shown by the widget.
const (
	Greeting     = "👋 Hello! I am Chef CTS. How can I assist you with your culinary questions today?"
	Placeholder  = "👨‍🍳 Chef CTS is thinking..."
	NoTextNotice = "Hmm… Chef CTS didn’t send any text back."
	Apology      = "Sorry, I encountered an error. Please try again."
)

// Element is a rendered message whose text can be replaced in place.
type Element interface {
	SetText(text string)
}

// View renders messages. Append is called synchronously from AddMessage.
type View interface {
	Append(role domain.Role, text string) Element
}

// Input is the text field the user types into.
type Input interface {
	Value() string
	Clear()
}

// Key is a keypress in the input field.
type Key struct {
	Name  string
	Shift bool
}

// Session is one widget instance: its rendered log, transcript and the
// conversation id returned by the relay. Sessions share nothing, so any number
// can live in one process. Concurrent sends are allowed and not serialized;
// the last successful reply sets the thread id.
type Session struct {
	transport Transport
	view      View

	mu         sync.Mutex
	threadID   string
	transcript []domain.Message
}

// NewSession creates a session and renders the greeting without any network call.
func NewSession(transport Transport, view View) *Session {
	if view == nil {
		view = NewLog()
	}
	s := &Session{transport: transport, view: view}
	s.AddMessage(domain.RoleAssistant, Greeting)
	return s
}

// AddMessage renders text and appends it to the transcript. Empty text is
// ignored and returns nil.
func (s *Session) AddMessage(role domain.Role, text string) Element {
	if text == "" {
		return nil
	}

	s.mu.Lock()
	idx := len(s.transcript)
	s.transcript = append(s.transcript, domain.Message{Role: role, Content: text})
	s.mu.Unlock()

	return &trackedElement{session: s, index: idx, el: s.view.Append(role, text)}
}

// HandleKey sends on Enter without Shift. It returns true when the default
// newline insertion must be suppressed.
func (s *Session) HandleKey(ctx context.Context, in Input, key Key) bool {
	if key.Name != "Enter" || key.Shift {
		return false
	}
	// Send errors are already rendered as the apology text.
	_ = s.SendMessage(ctx, in)
	return true
}

// SendMessage sends the input's trimmed text. An empty input does nothing.
// The user message and the placeholder are rendered before the request is
// made; the placeholder is then replaced with the reply or an error text.
// The returned error is only for logging; it is already shown to the user.
func (s *Session) SendMessage(ctx context.Context, in Input) error {
	message := strings.TrimSpace(in.Value())
	if message == "" {
		return nil
	}

	s.AddMessage(domain.RoleUser, message)
	in.Clear()
	pending := s.AddMessage(domain.RoleAssistant, Placeholder)

	req := Request{Message: message}
	if id := s.ThreadID(); id != "" {
		req.ThreadID = &id
	}

	reply, err := s.transport.Send(ctx, req)
	if err != nil {
		pending.SetText(Apology)
		return err
	}

	if reply.ThreadID != "" {
		s.mu.Lock()
		s.threadID = reply.ThreadID
		s.mu.Unlock()
	}

	switch {
	case reply.Error != "":
		pending.SetText(reply.Error)
		return &ReplyError{Message: reply.Error}
	case strings.TrimSpace(reply.Message) == "":
		pending.SetText(NoTextNotice)
	default:
		pending.SetText(reply.Message)
	}
	return nil
}

// Send is SendMessage for callers without an input field.
func (s *Session) Send(ctx context.Context, text string) error {
	return s.SendMessage(ctx, &TextInput{Text: text})
}

// ThreadID returns the last conversation id returned by the relay.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Transcript returns a copy of every message rendered so far.
func (s *Session) Transcript() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// ReplyError is an in-band error returned by the relay with HTTP 200.
type ReplyError struct {
	Message string
}

func (e *ReplyError) Error() string {
	return "relay error: " + e.Message
}

// IsReplyError reports whether err is an in-band relay error.
func IsReplyError(err error) bool {
	var re *ReplyError
	return errors.As(err, &re)
}

type trackedElement struct {
	session *Session
	index   int
	el      Element
}

func (t *trackedElement) SetText(text string) {
	t.session.mu.Lock()
	t.session.transcript[t.index].Content = text
	t.session.mu.Unlock()
	if t.el != nil {
		t.el.SetText(text)
	}
}

// TextInput is an in-memory Input.
type TextInput struct {
	Text string
}

// Value returns the current text.
func (t *TextInput) Value() string { return t.Text }

// Clear empties the text.
func (t *TextInput) Clear() { t.Text = "" }
