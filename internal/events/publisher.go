package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-platform/internal/models"
)

// Publisher feeds the external push-notification dispatcher. The real-time
// path never depends on it; a nil Publisher is a no-op.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Publisher{writer: w, log: log}
}

type messageSentRecord struct {
	TenantID string          `json:"tenant_id"`
	ChatID   string          `json:"chat_id"`
	Message  *models.Message `json:"message"`
	SentAt   time.Time       `json:"sent_at"`
}

// MessageSent publishes a message.sent record keyed by tenant. Failures are
// logged and swallowed; push dispatch is best effort.
func (p *Publisher) MessageSent(ctx context.Context, tenantID string, m *models.Message) {
	if p == nil {
		return
	}
	rec := messageSentRecord{TenantID: tenantID, ChatID: m.ChatID, Message: m, SentAt: time.Now().UTC()}
	b, _ := json.Marshal(rec)
	msg := kafka.Message{Key: []byte(tenantID), Value: b, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("publish message.sent", "tenant", tenantID, "err", err)
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
