package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
	"gopkg.in/validator.v2"
)

const (
	defaultOutboxBatchSize       = 50
	defaultOutboxPollInterval    = 1200 * time.Millisecond
	defaultOutboxStaleProcessing = 2 * time.Minute
)

// OutboxDispatcherConfig wires an OutboxDispatcher.
type OutboxDispatcherConfig struct {
	Repo store.OutboxRepository `validate:"nonnil"`
	// NewPublisher is called lazily and again after every publish failure.
	NewPublisher func() (rabbitmq.Publisher, error)
	BatchSize    int
	PollInterval time.Duration
}

// OutboxDispatcher relays committed outbox rows to the message broker.
type OutboxDispatcher struct {
	repo                store.OutboxRepository
	newPublisher        func() (rabbitmq.Publisher, error)
	publisher           rabbitmq.Publisher
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
}

func NewOutboxDispatcher(cfg OutboxDispatcherConfig) (*OutboxDispatcher, error) {
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid outbox dispatcher config: %w", err)
	}
	if cfg.NewPublisher == nil {
		return nil, errors.New("invalid outbox dispatcher config: NewPublisher is required")
	}

	d := &OutboxDispatcher{
		repo:                cfg.Repo,
		newPublisher:        cfg.NewPublisher,
		batchSize:           cfg.BatchSize,
		pollInterval:        cfg.PollInterval,
		staleProcessingTime: defaultOutboxStaleProcessing,
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultOutboxBatchSize
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultOutboxPollInterval
	}
	return d, nil
}

// Run polls the outbox until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closePublisher()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				log.Printf("level=warn component=outbox msg=\"flush failed\" err=%v", err)
			}
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, int(d.staleProcessingTime.Seconds()))
	if err != nil {
		return err
	}

	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			log.Printf("level=warn component=outbox msg=\"publish failed\" id=%d routing_key=%s attempts=%d retry_after=%d err=%v",
				message.ID, message.RoutingKey, message.Attempts, retryAfter, err)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				log.Printf("level=error component=outbox msg=\"mark failed errored\" id=%d err=%v", message.ID, markErr)
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			log.Printf("level=error component=outbox msg=\"mark published errored\" id=%d err=%v", message.ID, err)
		}
	}
	return nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.publisher == nil {
		publisher, err := d.newPublisher()
		if err != nil {
			return err
		}
		d.publisher = publisher
	}

	if err := d.publisher.Publish(ctx, message.Exchange, message.RoutingKey, json.RawMessage(message.Payload)); err != nil {
		d.closePublisher()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closePublisher() {
	if d.publisher != nil {
		d.publisher.Close()
		d.publisher = nil
	}
}

// retryDelaySeconds backs off exponentially, capped at five minutes.
func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
