package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pasturelabs/herdwatch/internal/telemetry"
	"github.com/pasturelabs/herdwatch/pkg/metrics"
	"github.com/pasturelabs/herdwatch/pkg/mq"
)

// publishTimeout bounds a single confirmed push before the record counts as
// a failure.
const publishTimeout = 10 * time.Second

// Publisher drains one output channel to one queue asynchronously. A full
// buffer drops the record and increments a counter; a stalled broker never
// blocks detection.
type Publisher struct {
	logger  *slog.Logger
	name    string
	client  mq.ClientInterface
	buf     chan []byte
	done    chan struct{}
	once    sync.Once
	metrics *metrics.ProcessorMetrics
}

// NewPublisher creates a publisher with the given buffer capacity and starts
// its drain goroutine.
func NewPublisher(logger *slog.Logger, name string, client mq.ClientInterface, buffer int, m *metrics.ProcessorMetrics) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	p := &Publisher{
		logger:  logger.With(slog.String("output", name)),
		name:    name,
		client:  client,
		buf:     make(chan []byte, buffer),
		done:    make(chan struct{}),
		metrics: m,
	}
	go p.drain()
	return p
}

// Publish encodes the payload and queues it for delivery without blocking.
// Returns false when the record was dropped (encode failure or full buffer).
func (p *Publisher) Publish(v any) bool {
	data, err := telemetry.Encode(v)
	if err != nil {
		p.logger.Error("failed to encode output record", "error", err)
		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues(p.name).Inc()
		}
		return false
	}

	select {
	case p.buf <- data:
		return true
	default:
		p.logger.Warn("publish buffer full, dropping record")
		if p.metrics != nil {
			p.metrics.PublishDrops.WithLabelValues(p.name).Inc()
		}
		return false
	}
}

// drain pushes buffered records until the buffer is closed and empty.
func (p *Publisher) drain() {
	defer close(p.done)

	for data := range p.buf {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.client.Push(ctx, data)
		cancel()

		if err != nil {
			p.logger.Error("failed to publish record", "error", err)
			if p.metrics != nil {
				p.metrics.PublishFailures.WithLabelValues(p.name).Inc()
			}
		}
	}
}

// Close stops accepting records, waits for the buffer to drain and closes
// the underlying client.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.buf)
		<-p.done

		if err := p.client.Close(); err != nil {
			p.logger.Error("failed to close MQ client", "error", err)
		}
	})
}
