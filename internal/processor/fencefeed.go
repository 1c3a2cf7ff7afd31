package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pasturelabs/herdwatch/internal/fence"
	"github.com/pasturelabs/herdwatch/internal/metadata"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
	"github.com/pasturelabs/herdwatch/pkg/mq"
)

// FenceFeed consumes the fence-config control queue and applies upserts and
// deactivations to the running processor, persisting upserts so fences
// survive a restart.
type FenceFeed struct {
	logger    *slog.Logger
	client    mq.ClientInterface
	processor *Processor
	repo      *metadata.Repository
	done      chan struct{}
}

// FenceFeedConfig holds the configuration for the FenceFeed.
type FenceFeedConfig struct {
	Logger *slog.Logger
	Client mq.ClientInterface
	// Processor receives the applied fence updates.
	Processor *Processor
	// Repo persists upserted fences. Optional; nil skips persistence.
	Repo *metadata.Repository
}

// NewFenceFeed creates a new FenceFeed instance.
func NewFenceFeed(cfg *FenceFeedConfig) (*FenceFeed, error) {
	if cfg == nil {
		return nil, errors.New("fence feed config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	if cfg.Processor == nil {
		return nil, errors.New("processor cannot be nil")
	}

	return &FenceFeed{
		logger:    cfg.Logger,
		client:    cfg.Client,
		processor: cfg.Processor,
		repo:      cfg.Repo,
		done:      make(chan struct{}),
	}, nil
}

// Start begins consuming fence-config messages.
func (f *FenceFeed) Start(ctx context.Context) error {
	f.logger.Info("starting fence feed")

	// Wait for MQ client to be ready
	time.Sleep(2 * time.Second)

	deliveries, err := f.client.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go f.processMessages(ctx, deliveries)

	f.logger.Info("fence feed started, waiting for messages")
	return nil
}

func (f *FenceFeed) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("context canceled, stopping fence feed")
			close(f.done)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				f.logger.Warn("deliveries channel closed")
				close(f.done)
				return
			}

			f.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery applies one control message. Config flow is at-most-once:
// every message is acked, malformed or invalid ones are logged and dropped.
func (f *FenceFeed) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	defer func() {
		if err := delivery.Ack(false); err != nil {
			f.logger.Error("failed to ack message", "error", err)
		}
	}()

	var msg fence.FeedMessage
	if err := telemetry.Decode(delivery.Body, &msg); err != nil {
		f.logger.Error("failed to decode fence feed message", "error", err)
		return
	}

	if err := f.processor.ApplyFence(&msg); err != nil {
		f.logger.Error("failed to apply fence update",
			"action", msg.Action,
			"error", err,
		)
		return
	}

	f.logger.Info("fence update applied", "action", msg.Action)

	// Persist upserts so the fence set survives restarts. The in-memory
	// update already succeeded, so a persistence failure only logs.
	if f.repo != nil && msg.Action == fence.FeedActionUpsert {
		if err := f.repo.SaveFence(ctx, msg.Fence); err != nil {
			f.logger.Error("failed to persist fence config",
				"fence_id", msg.Fence.FenceID,
				"error", err,
			)
		}
	}
}

// Stop stops the feed and closes the MQ client.
func (f *FenceFeed) Stop() error {
	f.logger.Info("stopping fence feed")

	if err := f.client.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	<-f.done

	f.logger.Info("fence feed stopped")
	return nil
}
