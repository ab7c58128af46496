package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dharmasatrya/awardsearch/internal/models"
)

const (
	eventResults = "job.results"
	eventStatus  = "job.status"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes outcomes keyed by job id so every event of a job
// lands on the same partition. The event header tells results from status
// updates.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: w, topic: cfg.Topic}
}

func (k *KafkaSink) SaveResults(ctx context.Context, result models.JobResult) error {
	return k.publish(ctx, result.JobID, eventResults, result.Normalize())
}

func (k *KafkaSink) UpdateStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	return k.publish(ctx, jobID, eventStatus, statusUpdate{JobID: jobID, Status: status})
}

func (k *KafkaSink) publish(ctx context.Context, jobID, event string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(jobID),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(event)}},
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", event, k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
