package repository

import (
	"context"
	"fmt"
	"strings"

	"Consilium/internal/domain/models"
	domrepo "Consilium/internal/domain/repository"
	pkgkafka "Consilium/pkg/kafka"
	applogger "Consilium/pkg/logger"
)

// MessageProducer is the subset of pkg/kafka.Producer the publishers need.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaResultPublisher emits consensus results keyed by ticker so one ticker stays on one partition.
type KafkaResultPublisher struct {
	producer MessageProducer
	topic    string
}

func NewKafkaResultPublisher(producer MessageProducer, topic string) *KafkaResultPublisher {
	return &KafkaResultPublisher{producer: producer, topic: topic}
}

var (
	_ domrepo.ResultPublisher = (*KafkaResultPublisher)(nil)
	_ applogger.Publisher     = (*KafkaResultPublisher)(nil)
)

func (p *KafkaResultPublisher) Publish(ctx context.Context, r *models.ConsensusResult) error {
	if r == nil {
		return fmt.Errorf("result is nil")
	}
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{resultMessage(r)})
}

// resultSchema versions the JSON shape of a published ConsensusResult.
const resultSchema = "consilium.consensus_result.v1"

func resultMessage(r *models.ConsensusResult) pkgkafka.Message {
	return pkgkafka.Message{
		Key:   []byte(strings.ToUpper(r.Ticker)),
		Value: r,
		Headers: map[string]string{
			"schema":     resultSchema,
			"signal":     string(r.Signal),
			"request_id": r.RequestID,
		},
	}
}

func (p *KafkaResultPublisher) PublishBatch(ctx context.Context, rs []models.ConsensusResult) error {
	if len(rs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(rs))
	for i := range rs {
		msgs = append(msgs, resultMessage(&rs[i]))
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// PublishMessage lets the same producer ship aggregated log batches.
func (p *KafkaResultPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaResultPublisher) Close() error {
	return p.producer.Close()
}
