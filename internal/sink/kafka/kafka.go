package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher mirrors applied changes to a Kafka topic so consumers that want
// the change stream, rather than the materialized cache, can follow along.
type Publisher struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

type changeEvent struct {
	Op          string `json:"op"`
	Key         string `json:"key,omitempty"`
	Value       string `json:"value,omitempty"`
	LogicalTime uint64 `json:"mz_timestamp"`
}

func New(brokers []string, topic string, logger *zap.Logger) (*Publisher, error) {
	logger.Info("Creating changelog publisher",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		Async:        false, // Synchronous for reliability
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug("Kafka writer log", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("Kafka writer error", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
	}

	return &Publisher{writer: writer, topic: topic, logger: logger}, nil
}

func (p *Publisher) PublishUpsert(key, value string, ts uint64) error {
	return p.publish(key, changeEvent{Op: "upsert", Key: key, Value: value, LogicalTime: ts})
}

func (p *Publisher) PublishDelete(key string, ts uint64) error {
	return p.publish(key, changeEvent{Op: "delete", Key: key, LogicalTime: ts})
}

// PublishProgress marks interval completion on the topic; consumers can use
// it the same way the driver uses progress rows.
func (p *Publisher) PublishProgress(ts uint64) error {
	return p.publish("", changeEvent{Op: "progress", LogicalTime: ts})
}

func (p *Publisher) publish(key string, ev changeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish change event",
			zap.Error(err),
			zap.String("op", ev.Op),
			zap.String("key", key))
		return err
	}

	p.logger.Debug("Published change event",
		zap.String("op", ev.Op),
		zap.String("key", key),
		zap.Uint64("mz_timestamp", ev.LogicalTime))
	return nil
}

func (p *Publisher) Close() error {
	p.logger.Info("Closing changelog publisher")
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
