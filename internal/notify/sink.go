// Package notify holds the delivery sinks used by the notification service.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink delivers notifications to a per-recipient mailbox and to broadcast channels.
// Implementations must honour ctx deadlines.
type Sink interface {
	Send(ctx context.Context, recipient, subject, body string) error
	Broadcast(ctx context.Context, channel, message string) error
}

// Message is the mailbox entry written by sinks that persist messages.
type Message struct {
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Send(context.Context, string, string, string) error { return nil }

func (NopSink) Broadcast(context.Context, string, string) error { return nil }

// LogSink writes notifications to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Send(_ context.Context, recipient, subject, body string) error {
	s.logger.Info("mailbox message",
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}

func (s *LogSink) Broadcast(_ context.Context, channel, message string) error {
	s.logger.Info("channel broadcast",
		zap.String("channel", channel),
		zap.String("message", message),
	)
	return nil
}

// Broadcasting is a recorded Broadcast call.
type Broadcasting struct {
	Channel string
	Message string
}

// RecordingSink keeps every call in memory. It is safe for concurrent use.
type RecordingSink struct {
	mu         sync.Mutex
	messages   []Message
	broadcasts []Broadcasting
	Err        error
}

func (s *RecordingSink) Send(_ context.Context, recipient, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.messages = append(s.messages, Message{Recipient: recipient, Subject: subject, Body: body, SentAt: time.Now().UTC()})
	return nil
}

func (s *RecordingSink) Broadcast(_ context.Context, channel, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.broadcasts = append(s.broadcasts, Broadcasting{Channel: channel, Message: message})
	return nil
}

// Messages returns a copy of recorded mailbox messages.
func (s *RecordingSink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Broadcasts returns a copy of recorded broadcasts.
func (s *RecordingSink) Broadcasts() []Broadcasting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Broadcasting(nil), s.broadcasts...)
}

// Recipients lists recorded mailbox recipients in call order.
func (s *RecordingSink) Recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Recipient)
	}
	return out
}
