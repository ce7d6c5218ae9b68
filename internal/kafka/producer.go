package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"postback-engine/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter keys messages by affiliate so one affiliate's conversions
// stay ordered within a partition.
func NewKafkaWriter(brokerURL, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokerURL),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// ConversionPublisher writes committed conversions to the feed topic.
type ConversionPublisher struct {
	writer messageWriter
	logger *logrus.Logger
}

func NewConversionPublisher(writer messageWriter, logger *logrus.Logger) *ConversionPublisher {
	return &ConversionPublisher{writer: writer, logger: logger}
}

func (p *ConversionPublisher) Publish(ctx context.Context, events []models.ConversionEvent) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		msg, err := EncodeEvent(e)
		if err != nil {
			p.logger.WithError(err).WithField("conversion_id", e.ConversionID).Error("Failed to encode conversion event")
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	return nil
}

func (p *ConversionPublisher) Close() error {
	return p.writer.Close()
}

func EncodeEvent(e models.ConversionEvent) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(e.AffiliateID), 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, nil
}
