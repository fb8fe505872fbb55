package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink pushes mailbox messages onto per-recipient lists and publishes
// broadcasts on pub/sub channels.
type RedisSink struct {
	client        redis.UniversalClient
	mailboxPrefix string
	maxMailbox    int64
}

// NewRedisSink creates a sink. Mailbox keys are mailboxPrefix + recipient.
func NewRedisSink(client redis.UniversalClient, mailboxPrefix string) *RedisSink {
	if mailboxPrefix == "" {
		mailboxPrefix = "mailbox:"
	}
	return &RedisSink{client: client, mailboxPrefix: mailboxPrefix, maxMailbox: 500}
}

// MailboxKey returns the list key for a recipient.
func (s *RedisSink) MailboxKey(recipient string) string {
	return s.mailboxPrefix + recipient
}

func (s *RedisSink) Send(ctx context.Context, recipient, subject, body string) error {
	raw, err := json.Marshal(Message{
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	key := s.MailboxKey(recipient)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -s.maxMailbox, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mailbox %s: %w", key, err)
	}
	return nil
}

func (s *RedisSink) Broadcast(ctx context.Context, channel, message string) error {
	if err := s.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}
