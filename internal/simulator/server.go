// Package simulator runs the collar simulator service: a herd of synthetic
// collars publishing raw telemetry onto the ingest queue at a fixed cadence.
package simulator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pasturelabs/herdwatch/internal/telemetry"
	"github.com/pasturelabs/herdwatch/pkg/collar"
	"github.com/pasturelabs/herdwatch/pkg/logger"
	"github.com/pasturelabs/herdwatch/pkg/metrics"
	"github.com/pasturelabs/herdwatch/pkg/mq"
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// RabbitMQURL is the connection string for RabbitMQ
	RabbitMQURL string
	// QueueName is the ingest queue raw telemetry is published to
	QueueName string
	// FarmID is stamped on every generated event
	FarmID string
	// HerdSize is the number of collars to simulate
	HerdSize int
	// CenterLat / CenterLon anchor the simulated paddock
	CenterLat float64
	CenterLon float64
	// Interval is the time between readings per collar
	Interval time.Duration
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.CollarMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
}

// Server drives a herd of simulated collars against one MQ client.
type Server struct {
	logger  *slog.Logger
	config  *ServerConfig
	herd    []*collar.Collar
	client  mq.ClientInterface
	wg      sync.WaitGroup
	metrics *metrics.CollarMetrics
}

var (
	errInvalidHerdSize = errors.New("herd size must be greater than 0")
	errInvalidInterval = errors.New("interval must be greater than 0")
	errLoggerRequired  = errors.New("logger is required")
)

// NewServer creates a new simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.HerdSize <= 0 {
		return nil, errInvalidHerdSize
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	client := mq.New(cfg.QueueName, cfg.RabbitMQURL, logger.Component(cfg.Logger, "mq-client"))
	if cfg.MQMetrics != nil {
		client.SetMetrics(cfg.MQMetrics)
	}

	s := &Server{
		logger:  cfg.Logger,
		config:  cfg,
		herd:    collar.NewHerd(cfg.HerdSize, cfg.FarmID, cfg.CenterLat, cfg.CenterLon),
		client:  client,
		metrics: cfg.Metrics,
	}

	if cfg.Metrics != nil {
		cfg.Metrics.CollarsSimulated.Set(float64(len(s.herd)))
	}

	s.logger.Info("simulated herd created",
		"herd_size", len(s.herd),
		"farm_id", cfg.FarmID,
		"queue", cfg.QueueName,
	)

	return s, nil
}

// Run starts one goroutine per collar and blocks until a shutdown signal is
// received or the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	for i, c := range s.herd {
		s.wg.Add(1)
		go s.runCollar(ctx, i, c)
	}

	s.logger.Info("simulator started",
		"herd_size", len(s.herd),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for collars to shut down")
	s.wg.Wait()

	if err := s.client.Close(); err != nil {
		s.logger.Error("failed to close MQ client", "error", err)
	}

	s.logger.Info("simulator stopped")
	return nil
}

// runCollar publishes one collar's readings on the configured interval.
// Publish errors are logged and counted; the collar keeps running.
func (s *Server) runCollar(ctx context.Context, id int, c *collar.Collar) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log := s.logger.With(slog.Int("collar", id), slog.String("entity_id", c.EntityID))
	log.Info("collar started")

	for {
		select {
		case <-ctx.Done():
			log.Info("collar shutting down")
			return

		case t := <-ticker.C:
			if err := s.publishReading(ctx, c, t); err != nil {
				log.Error("failed to publish reading", "error", err)
				continue
			}
			log.Debug("reading published")
		}
	}
}

func (s *Server) publishReading(ctx context.Context, c *collar.Collar, t time.Time) error {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.GenerationDuration.WithLabelValues("reading"))
		defer timer.ObserveDuration()
	}

	payload, err := telemetry.Encode(c.Reading(t))
	if err != nil {
		if s.metrics != nil {
			s.metrics.GenerationFailures.WithLabelValues("reading", "marshal_error").Inc()
		}
		return err
	}

	if err := s.client.Push(ctx, payload); err != nil {
		if s.metrics != nil {
			s.metrics.GenerationFailures.WithLabelValues("reading", "push_error").Inc()
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.ReadingsGenerated.WithLabelValues("reading").Inc()
	}
	return nil
}
