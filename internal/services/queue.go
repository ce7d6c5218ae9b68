package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"postback-engine/internal/metrics"
	"postback-engine/internal/models"
)

// EventPublisher writes a batch of conversion events to the feed.
type EventPublisher interface {
	Publish(ctx context.Context, events []models.ConversionEvent) error
}

// PublishQueue decouples the conversion feed from the ingest path. Events
// are published after their conversion committed; the feed is best effort
// and never blocks or fails a postback.
type PublishQueue struct {
	events    chan models.ConversionEvent
	publisher EventPublisher
	logger    *logrus.Logger

	batchSize    int
	batchTimeout time.Duration
	maxRetries   int
	backoff      func(attempt int) time.Duration
}

func NewPublishQueue(publisher EventPublisher, logger *logrus.Logger, bufferSize int) *PublishQueue {
	return &PublishQueue{
		events:       make(chan models.ConversionEvent, bufferSize),
		publisher:    publisher,
		logger:       logger,
		batchSize:    100,
		batchTimeout: 5 * time.Second,
		maxRetries:   3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * time.Second
		},
	}
}

func (q *PublishQueue) Enqueue(event models.ConversionEvent) bool {
	select {
	case q.events <- event:
		metrics.QueueSize.Set(float64(q.Len()))
		return true
	default:
		metrics.EventsDropped.Inc()
		q.logger.WithField("conversion_id", event.ConversionID).Warn("Publish queue is full, dropping event")
		return false
	}
}

// Run batches queued events until ctx is cancelled, then flushes what is
// left with a short grace period.
func (q *PublishQueue) Run(ctx context.Context) error {
	batch := make([]models.ConversionEvent, 0, q.batchSize)
	timer := time.NewTimer(q.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			q.drain(&batch)
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				q.processBatch(flushCtx, batch)
				cancel()
			}
			return nil
		case event := <-q.events:
			metrics.QueueSize.Set(float64(q.Len()))
			batch = append(batch, event)
			if len(batch) >= q.batchSize {
				q.processBatch(ctx, batch)
				batch = batch[:0]
				timer.Reset(q.batchTimeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				q.processBatch(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(q.batchTimeout)
		}
	}
}

func (q *PublishQueue) drain(batch *[]models.ConversionEvent) {
	for {
		select {
		case event := <-q.events:
			*batch = append(*batch, event)
		default:
			metrics.QueueSize.Set(0)
			return
		}
	}
}

func (q *PublishQueue) processBatch(ctx context.Context, events []models.ConversionEvent) {
	if len(events) == 0 {
		return
	}

	for i := 0; i < q.maxRetries; i++ {
		err := q.publisher.Publish(ctx, events)
		if err == nil {
			metrics.EventsPublished.Add(float64(len(events)))
			return
		}
		q.logger.WithError(err).Warnf("Failed to publish batch (attempt %d/%d)", i+1, q.maxRetries)
		if i == q.maxRetries-1 || !q.wait(ctx, i) {
			break
		}
	}

	metrics.EventsDropped.Add(float64(len(events)))
	q.logger.WithField("events", len(events)).Error("Failed to publish conversion events after all retries")
}

func (q *PublishQueue) wait(ctx context.Context, attempt int) bool {
	t := time.NewTimer(q.backoff(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Len is the number of events waiting to be batched.
func (q *PublishQueue) Len() int {
	return len(q.events)
}
