package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"postback-engine/internal/models"
)

// Consumer tails the conversion feed.
type Consumer struct {
	reader *kafka.Reader
	logger *logrus.Logger
}

func NewConsumer(brokerURL, topic, groupID string, logger *logrus.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{brokerURL},
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	return &Consumer{
		reader: reader,
		logger: logger,
	}
}

// Next blocks until the next conversion event arrives or ctx is done.
func (c *Consumer) Next(ctx context.Context) (models.ConversionEvent, error) {
	message, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return models.ConversionEvent{}, fmt.Errorf("failed to read message: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"key":       string(message.Key),
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}).Debug("Read conversion event")

	return DecodeEvent(message)
}

func DecodeEvent(message kafka.Message) (models.ConversionEvent, error) {
	var e models.ConversionEvent
	if err := json.Unmarshal(message.Value, &e); err != nil {
		return models.ConversionEvent{}, fmt.Errorf("decode conversion event at offset %d: %w", message.Offset, err)
	}
	return e, nil
}

func (c *Consumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
