// Package processor implements the telemetry stream processor: it consumes
// raw collar events from the ingest queue, enriches them, runs anomaly and
// fence detection, aggregates windowed rollups and publishes to the three
// output queues.
package processor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pasturelabs/herdwatch/internal/aggregate"
	"github.com/pasturelabs/herdwatch/internal/anomaly"
	"github.com/pasturelabs/herdwatch/internal/fence"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
	"github.com/pasturelabs/herdwatch/pkg/metrics"
	"github.com/pasturelabs/herdwatch/pkg/mq"
)

// Config holds the configuration for the Processor.
type Config struct {
	Logger *slog.Logger

	// Workers is the number of shard workers. Events are routed by entity id
	// so one entity's events always land on the same worker, in order.
	Workers int
	// WorkerBuffer is the per-shard task channel capacity.
	WorkerBuffer int
	// SweepInterval is how often lapsed aggregation windows are flushed.
	SweepInterval time.Duration

	Detector   anomaly.Config
	Aggregator aggregate.Config

	// Registry is the shared fence set. Created when nil.
	Registry *fence.Registry
	// Cooldowns is the shared alert cooldown store. In-memory when nil.
	// Its lifecycle belongs to the caller; the processor never closes it.
	Cooldowns fence.CooldownStore

	Enricher *Enricher

	// Output publishers for enriched records, alerts and windowed rollups.
	Enriched *Publisher
	Alerts   *Publisher
	Windows  *Publisher

	Metrics *metrics.ProcessorMetrics
}

// task is one unit of work for a shard worker: a record, or a sweep tick.
type task struct {
	rec     *telemetry.TelemetryRecord
	sweepAt time.Time
}

// shard is the per-worker detection state. Only its worker goroutine touches
// detector, engine, aggregator and lastOpen, so none of them need locks.
type shard struct {
	id       int
	tasks    chan task
	detector *anomaly.Detector
	engine   *fence.Engine
	agg      *aggregate.Aggregator
	lastOpen int
}

// Processor is the stream processing pipeline.
type Processor struct {
	logger   *slog.Logger
	config   *Config
	client   mq.ClientInterface
	registry *fence.Registry
	enricher *Enricher
	shards   []*shard
	metrics  *metrics.ProcessorMetrics

	wg          sync.WaitGroup
	consumeDone chan struct{}
	sweepStop   chan struct{}
	sweepDone   chan struct{}
	stopOnce    sync.Once
}

// NewProcessor creates a processor consuming from the given ingest client.
func NewProcessor(cfg *Config, client mq.ClientInterface) (*Processor, error) {
	if cfg == nil {
		return nil, errors.New("processor config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if client == nil {
		return nil, errors.New("ingest client cannot be nil")
	}
	if cfg.Enriched == nil || cfg.Alerts == nil || cfg.Windows == nil {
		return nil, errors.New("all three output publishers are required")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	buffer := cfg.WorkerBuffer
	if buffer <= 0 {
		buffer = 256
	}

	registry := cfg.Registry
	if registry == nil {
		registry = fence.NewRegistry()
	}
	cooldowns := cfg.Cooldowns
	if cooldowns == nil {
		cooldowns = fence.NewMemoryCooldownStore()
	}
	enricher := cfg.Enricher
	if enricher == nil {
		enricher = NewEnricher(cfg.Logger, nil)
	}

	p := &Processor{
		logger:      cfg.Logger,
		config:      cfg,
		client:      client,
		registry:    registry,
		enricher:    enricher,
		metrics:     cfg.Metrics,
		consumeDone: make(chan struct{}),
		sweepStop:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.shards = append(p.shards, &shard{
			id:       i,
			tasks:    make(chan task, buffer),
			detector: anomaly.NewDetector(cfg.Detector),
			engine:   fence.NewEngine(cfg.Logger.With(slog.Int("shard", i)), registry, cooldowns),
			agg:      aggregate.New(cfg.Aggregator),
		})
	}

	return p, nil
}

// Start begins consuming from the ingest queue. It returns once the workers
// and the consume loop are running.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("starting processor", "workers", len(p.shards))

	// Wait for MQ client to be ready
	time.Sleep(2 * time.Second)

	deliveries, err := p.client.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for _, s := range p.shards {
		p.wg.Add(1)
		go p.runWorker(ctx, s)
	}

	go p.consume(ctx, deliveries)
	go p.sweepLoop()

	p.logger.Info("processor started, waiting for events")
	return nil
}

// consume routes deliveries to shard workers until the channel closes.
func (p *Processor) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(p.consumeDone)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("context canceled, stopping event consumption")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				p.logger.Warn("deliveries channel closed")
				return
			}
			p.handleDelivery(delivery)
		}
	}
}

// handleDelivery parses one delivery and hands it to its shard. Raw events
// are not persisted, so messages are acked on handoff; malformed payloads are
// acked too — logged, counted and dropped, never retried.
func (p *Processor) handleDelivery(delivery amqp.Delivery) {
	if p.metrics != nil {
		p.metrics.EventsConsumed.Inc()
	}

	rec, err := telemetry.ParseRawEvent(delivery.Body)
	if err != nil {
		p.logger.Error("failed to parse telemetry event", "error", err)
		if p.metrics != nil {
			p.metrics.EventsMalformed.Inc()
		}
		if ackErr := delivery.Ack(false); ackErr != nil {
			p.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		p.logger.Error("failed to ack message", "error", ackErr)
	}

	s := p.shards[shardFor(rec.EntityID, len(p.shards))]
	s.tasks <- task{rec: rec}
}

// shardFor routes an entity to a worker by FNV-1a hash.
func shardFor(entityID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityID))
	return int(h.Sum32() % uint32(n))
}

// runWorker is a shard's event loop. When the task channel closes it flushes
// the shard's open windows before exiting.
func (p *Processor) runWorker(ctx context.Context, s *shard) {
	defer p.wg.Done()

	for t := range s.tasks {
		switch {
		case t.rec != nil:
			p.handleRecord(ctx, s, t.rec)
		case !t.sweepAt.IsZero():
			p.emitWindows(s, s.agg.Sweep(t.sweepAt))
		}
	}

	p.emitWindows(s, s.agg.Flush())
	p.logger.Info("worker drained", "shard", s.id)
}

// handleRecord runs the full per-event pipeline: detect, fence-check,
// aggregate, enrich, emit. An error on one event never halts the stream.
func (p *Processor) handleRecord(ctx context.Context, s *shard, rec *telemetry.TelemetryRecord) {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.ProcessingDuration)
		defer timer.ObserveDuration()
	}

	anomalies := s.detector.Detect(rec)
	for _, a := range anomalies {
		if p.metrics != nil {
			p.metrics.AnomaliesDetected.WithLabelValues(a.Type, string(a.Severity)).Inc()
		}
		p.config.Alerts.Publish(anomalyAlert(a, rec))
	}

	if rec.HasLocation() {
		violations := s.engine.ProcessLocationUpdate(fence.AnimalLocation{
			EntityID:       rec.EntityID,
			Timestamp:      rec.Timestamp,
			Latitude:       *rec.Latitude,
			Longitude:      *rec.Longitude,
			AccuracyMeters: rec.GPSAccuracyMeters,
		})
		for _, v := range violations {
			if p.metrics != nil {
				p.metrics.FenceViolations.WithLabelValues(v.Type, string(v.Severity)).Inc()
			}
			p.config.Alerts.Publish(violationAlert(v, rec))
		}
	}

	p.config.Enriched.Publish(p.enricher.Enrich(ctx, rec, len(anomalies)))

	p.emitWindows(s, s.agg.Add(rec, len(anomalies)))
}

// emitWindows publishes closed rollups and keeps the open-window gauge in
// step via per-shard deltas.
func (p *Processor) emitWindows(s *shard, windows []telemetry.WindowedMetrics) {
	for _, w := range windows {
		if p.metrics != nil {
			p.metrics.WindowsEmitted.Inc()
		}
		p.config.Windows.Publish(w)
	}

	if p.metrics != nil {
		open := s.agg.OpenWindows()
		p.metrics.OpenWindows.Add(float64(open - s.lastOpen))
		s.lastOpen = open
	}
}

// sweepLoop periodically asks every shard to flush lapsed windows, so quiet
// entities still emit rollups.
func (p *Processor) sweepLoop() {
	defer close(p.sweepDone)

	interval := p.config.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.sweepStop:
			return
		case now := <-ticker.C:
			for _, s := range p.shards {
				select {
				case s.tasks <- task{sweepAt: now}:
				default:
					// Shard busy; it will sweep on the next tick.
				}
			}
			if p.metrics != nil && p.enricher != nil {
				p.metrics.CachedEntities.Set(float64(p.enricher.CacheSize()))
			}
		}
	}
}

// ApplyFence handles one message from the fence-config control feed. Upserts
// replace the whole fence config; deactivations retain it for status queries.
func (p *Processor) ApplyFence(msg *fence.FeedMessage) error {
	if msg == nil {
		return errors.New("fence feed message cannot be nil")
	}

	switch msg.Action {
	case fence.FeedActionUpsert:
		if msg.Fence == nil {
			return errors.New("upsert message carries no fence config")
		}
		// All shard engines share the registry; registering through any one
		// of them makes the fence visible everywhere.
		if err := p.shards[0].engine.RegisterFence(msg.Fence); err != nil {
			return err
		}
	case fence.FeedActionDeactivate:
		id := msg.FenceID
		if id == "" && msg.Fence != nil {
			id = msg.Fence.FenceID
		}
		if id == "" {
			return errors.New("deactivate message carries no fence id")
		}
		p.shards[0].engine.DeactivateFence(id)
	default:
		return fmt.Errorf("unknown fence feed action %q", msg.Action)
	}

	if p.metrics != nil {
		_, active := p.registry.Count()
		p.metrics.ActiveFences.Set(float64(active))
	}
	return nil
}

// AnimalStatus returns the fence-engine projection for one entity, querying
// the shard that owns it.
func (p *Processor) AnimalStatus(entityID string) (fence.AnimalStatus, bool) {
	s := p.shards[shardFor(entityID, len(p.shards))]
	return s.engine.AnimalStatus(entityID)
}

// Stop shuts the pipeline down in order: stop consuming, drain the workers
// (flushing open windows), then close the publishers.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping processor")

		// The sweeper sends on the shard channels, so it must be fully
		// stopped before they close.
		close(p.sweepStop)
		<-p.sweepDone

		if err := p.client.Close(); err != nil {
			p.logger.Error("failed to close ingest client", "error", err)
		}
		<-p.consumeDone

		for _, s := range p.shards {
			close(s.tasks)
		}
		p.wg.Wait()

		p.config.Enriched.Close()
		p.config.Alerts.Close()
		p.config.Windows.Close()

		p.logger.Info("processor stopped")
	})
}

// anomalyAlert converts one detected anomaly into an alert record.
func anomalyAlert(a anomaly.Anomaly, rec *telemetry.TelemetryRecord) telemetry.Alert {
	md := map[string]any{
		"value": a.Value,
	}
	if a.Metric != "" {
		md["metric"] = a.Metric
	}
	if a.ZScore != 0 {
		md["z_score"] = a.ZScore
	}

	return telemetry.Alert{
		AlertID:   uuid.NewString(),
		EntityID:  a.EntityID,
		FarmID:    rec.FarmID,
		AlertType: a.Type,
		Severity:  a.Severity,
		Message:   a.Message,
		Timestamp: a.Timestamp,
		Metadata:  md,
	}
}

// violationAlert converts one fence violation into an alert record. The
// violation id is reused so replays stay deduplicatable downstream.
func violationAlert(v fence.ViolationEvent, rec *telemetry.TelemetryRecord) telemetry.Alert {
	md := map[string]any{
		"fence_id":        v.FenceID,
		"violation_type":  v.Type,
		"distance_meters": v.DistanceMeters,
		"confidence":      v.Confidence,
		"latitude":        v.Latitude,
		"longitude":       v.Longitude,
	}
	for k, val := range v.Metadata {
		md[k] = val
	}

	return telemetry.Alert{
		AlertID:   v.ViolationID,
		EntityID:  v.EntityID,
		FarmID:    rec.FarmID,
		AlertType: "fence_" + v.Type,
		Severity:  v.Severity,
		Message:   fmt.Sprintf("fence %s %s by %s", v.FenceID, v.Type, v.EntityID),
		Timestamp: v.Timestamp,
		Metadata:  md,
	}
}
