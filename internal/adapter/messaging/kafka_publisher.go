package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
)

// auditNamespace seeds the deterministic event ids, so a re-relayed entry keeps its id.
var auditNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pharmacy-orders/audit"))

// AuditEvent is the wire form of a relayed audit entry.
type AuditEvent struct {
	EventID   string    `json:"event_id"`
	AuditID   int64     `json:"audit_id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Object    string    `json:"object"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func EventFromAudit(e domain.AuditEntry) AuditEvent {
	return AuditEvent{
		EventID:   uuid.NewSHA1(auditNamespace, []byte(strconv.FormatInt(e.ID, 10))).String(),
		AuditID:   e.ID,
		Actor:     e.Actor,
		Action:    string(e.Action),
		Object:    string(e.Object),
		Detail:    e.Detail,
		CreatedAt: e.CreatedAt.UTC(),
	}
}

// producer is the subset of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type KafkaPublisher struct {
	client producer
	topic  string
}

// NewKafkaPublisher connects an idempotent producer to brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return newKafkaPublisher(client, topic), nil
}

func newKafkaPublisher(client producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

// PublishAudit produces one record per entry, keyed by the audited object so entries about
// the same table stay ordered within a partition.
func (p *KafkaPublisher) PublishAudit(ctx context.Context, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		ev := EventFromAudit(e)
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal audit %d: %w", e.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(ev.Object),
			Value: payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_id", Value: []byte(ev.EventID)},
				{Key: "action", Value: []byte(ev.Action)},
			},
			Timestamp: ev.CreatedAt,
		})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit events: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
