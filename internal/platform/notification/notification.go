// Package notification delivers outbound messages over pluggable channel
// senders with template rendering.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
	ChannelInApp Channel = "IN_APP"
)

// ValidChannel reports whether ch is one of the supported channels.
func ValidChannel(ch Channel) bool {
	switch ch {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Sender
// ---------------------------------------------------------------------------

// Message is a rendered notification ready for delivery.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers a rendered message over a single channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "appointment-reminder",
			Name:    "Appointment Reminder",
			Subject: "Reminder: upcoming {{type}} appointment",
			Body:    "This is a reminder of your {{type}} appointment on {{date}} at {{time}}.",
		},
		{
			ID:      "appointment-confirmed",
			Name:    "Appointment Confirmed",
			Subject: "Your {{type}} appointment is confirmed",
			Body:    "Your {{type}} appointment on {{date}} at {{time}} has been confirmed.",
		},
		{
			ID:      "appointment-cancelled",
			Name:    "Appointment Cancelled",
			Subject: "Your {{type}} appointment was cancelled",
			Body:    "Your {{type}} appointment on {{date}} at {{time}} has been cancelled.",
		},
		{
			ID:      "appointment-rescheduled",
			Name:    "Appointment Rescheduled",
			Subject: "Your {{type}} appointment was rescheduled",
			Body:    "Your {{type}} appointment has been moved to {{date}} at {{time}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service routes rendered notifications to the sender registered for each
// channel.
type Service struct {
	mu        sync.RWMutex
	senders   map[Channel]Sender
	templates *TemplateEngine
}

// NewService constructs a Service with no senders registered.
func NewService(tpl *TemplateEngine) *Service {
	return &Service{
		senders:   make(map[Channel]Sender),
		templates: tpl,
	}
}

// Register installs the sender for a channel, replacing any previous one.
func (s *Service) Register(ch Channel, sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senders[ch] = sender
}

// Send delivers a pre-rendered message over the given channel.
func (s *Service) Send(ctx context.Context, ch Channel, msg Message) error {
	s.mu.RLock()
	sender, ok := s.senders[ch]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no sender registered for channel %s", ch)
	}
	return sender.Send(ctx, msg)
}

// SendTemplate renders a template and delivers it over the given channel.
func (s *Service) SendTemplate(ctx context.Context, ch Channel, recipient, templateID string, data map[string]string) error {
	subject, body, err := s.templates.Render(templateID, data)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	return s.Send(ctx, ch, Message{Recipient: recipient, Subject: subject, Body: body})
}

// ---------------------------------------------------------------------------
// Log Sender
// ---------------------------------------------------------------------------

// LogSender writes messages to the structured log instead of delivering them.
// Used in development and as a stand-in for channels without a provider.
type LogSender struct {
	channel Channel
	logger  zerolog.Logger
}

// NewLogSender creates a LogSender for the given channel.
func NewLogSender(ch Channel, logger zerolog.Logger) *LogSender {
	return &LogSender{channel: ch, logger: logger}
}

// Send logs the message at info level.
func (l *LogSender) Send(_ context.Context, msg Message) error {
	l.logger.Info().
		Str("channel", string(l.channel)).
		Str("recipient", msg.Recipient).
		Str("subject", msg.Subject).
		Msg("notification delivered")
	return nil
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// MockSender is a test double that records calls and optionally fails.
type MockSender struct {
	mu         sync.Mutex
	calls      []Message
	ShouldFail bool
	FailError  string
}

// Send records the call and optionally returns an error.
func (m *MockSender) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded messages.
func (m *MockSender) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.calls))
	copy(out, m.calls)
	return out
}
