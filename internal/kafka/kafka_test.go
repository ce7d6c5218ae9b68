package kafka

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postback-engine/internal/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleEvent() models.ConversionEvent {
	return models.ConversionEvent{
		ConversionID: "c-1",
		AffiliateID:  42,
		HouseID:      3,
		CustomerID:   "12345",
		Type:         models.EventDeposit,
		Amount:       decimal.RequireFromString("200.00"),
		Commission:   decimal.RequireFromString("50.00"),
		ConvertedAt:  time.Date(2026, 9, 6, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncodeDecode(t *testing.T) {
	msg, err := EncodeEvent(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, "deposit", string(msg.Headers[0].Value))

	got, err := DecodeEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.ConversionID)
	assert.True(t, got.Commission.Equal(decimal.NewFromInt(50)))
	assert.True(t, got.ConvertedAt.Equal(sampleEvent().ConvertedAt))
}

func TestDecodeEvent_Garbage(t *testing.T) {
	_, err := DecodeEvent(kafka.Message{Value: []byte("{nope")})
	assert.Error(t, err)
}

func TestPublish_WritesOneMessagePerEvent(t *testing.T) {
	w := &fakeWriter{}
	p := NewConversionPublisher(w, quietLogger())

	require.NoError(t, p.Publish(context.Background(), []models.ConversionEvent{sampleEvent(), sampleEvent()}))
	assert.Len(t, w.msgs, 2)
}

func TestPublish_WrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	p := NewConversionPublisher(&fakeWriter{err: boom}, quietLogger())

	err := p.Publish(context.Background(), []models.ConversionEvent{sampleEvent()})
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaWriter_HashesByKey(t *testing.T) {
	w := NewKafkaWriter("localhost:9092", "affiliate-conversions")
	_, ok := w.Balancer.(*kafka.Hash)
	assert.True(t, ok)
	assert.Equal(t, "affiliate-conversions", w.Topic)
}
