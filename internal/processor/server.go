package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"github.com/pasturelabs/herdwatch/internal/fence"
	"github.com/pasturelabs/herdwatch/internal/metadata"
	"github.com/pasturelabs/herdwatch/pkg/logger"
	"github.com/pasturelabs/herdwatch/pkg/metrics"
	"github.com/pasturelabs/herdwatch/pkg/mq"
)

// metricsNamespace prefixes every Prometheus metric the service exports.
const metricsNamespace = "herdwatch"

// defaultCacheTTL is the metadata cache refresh interval.
const defaultCacheTTL = 5 * time.Minute

// Server wires the full processor service together: database, metadata
// cache, ingest consumer, fence feed, output publishers and the metrics
// endpoint.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	db        *gorm.DB
	cooldowns fence.CooldownStore
	processor *Processor
	feed      *FenceFeed
	httpSrv   *http.Server
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// RabbitMQ configuration
	RabbitMQURL    string
	IngestQueue    string
	EnrichedQueue  string
	AlertsQueue    string
	WindowsQueue   string
	FenceFeedQueue string

	// Pipeline configuration
	Workers  int
	CacheTTL time.Duration
	// CooldownPath is the BadgerDB directory for durable alert cooldowns.
	// Empty keeps cooldowns in memory.
	CooldownPath string

	// MetricsPort serves /metrics and /healthz. Zero disables the listener.
	MetricsPort int
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}
	if cfg.IngestQueue == "" || cfg.EnrichedQueue == "" || cfg.AlertsQueue == "" || cfg.WindowsQueue == "" {
		return nil, errors.New("all four data queue names are required")
	}
	if cfg.FenceFeedQueue == "" {
		return nil, errors.New("fence feed queue name cannot be empty")
	}
	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}
	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}
	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}
	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the processor service and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting processor service")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Database and metadata
	db, err := metadata.NewDB(&metadata.DBConfig{
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	repo, err := metadata.NewRepository(s.logger, db)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}

	ttl := s.config.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := metadata.NewCache(s.logger, repo, ttl)
	if err != nil {
		return fmt.Errorf("failed to initialize metadata cache: %w", err)
	}

	// Cooldown store
	if s.config.CooldownPath != "" {
		store, err := fence.NewBadgerCooldownStore(s.config.CooldownPath, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open cooldown store: %w", err)
		}
		s.cooldowns = store
	} else {
		s.cooldowns = fence.NewMemoryCooldownStore()
	}

	// Metrics
	procMetrics := metrics.NewProcessorMetrics(metricsNamespace)
	mqMetrics := metrics.NewMQMetrics(metricsNamespace)

	newClient := func(queue, component string) *mq.Client {
		client := mq.New(queue, s.config.RabbitMQURL, logger.Component(s.logger, component))
		client.SetMetrics(mqMetrics)
		return client
	}

	// Pipeline
	proc, err := NewProcessor(&Config{
		Logger:    s.logger,
		Workers:   s.config.Workers,
		Cooldowns: s.cooldowns,
		Enricher:  NewEnricher(s.logger, cache),
		Enriched:  NewPublisher(s.logger, "enriched", newClient(s.config.EnrichedQueue, "enriched-publisher"), 0, procMetrics),
		Alerts:    NewPublisher(s.logger, "alerts", newClient(s.config.AlertsQueue, "alerts-publisher"), 0, procMetrics),
		Windows:   NewPublisher(s.logger, "windows", newClient(s.config.WindowsQueue, "windows-publisher"), 0, procMetrics),
		Metrics:   procMetrics,
	}, newClient(s.config.IngestQueue, "ingest-consumer"))
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}
	s.processor = proc

	// Re-register fences persisted before the last restart.
	if err := s.loadPersistedFences(ctx, repo); err != nil {
		s.logger.Error("failed to load persisted fences", "error", err)
	}

	if err := s.processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}

	// Fence config feed
	feed, err := NewFenceFeed(&FenceFeedConfig{
		Logger:    s.logger,
		Client:    newClient(s.config.FenceFeedQueue, "fence-feed"),
		Processor: s.processor,
		Repo:      repo,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize fence feed: %w", err)
	}
	s.feed = feed

	if err := s.feed.Start(ctx); err != nil {
		return fmt.Errorf("failed to start fence feed: %w", err)
	}

	// Metrics endpoint
	httpErr := make(chan error, 1)
	if s.config.MetricsPort > 0 {
		s.httpSrv = s.metricsServer()
		go func() {
			s.logger.Info("starting metrics server", "address", s.httpSrv.Addr)
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- fmt.Errorf("metrics server error: %w", err)
			}
			close(httpErr)
		}()
	}

	s.logger.Info("processor service started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("metrics server error", "error", err)
			cancel()
		}
	}

	return s.Shutdown()
}

// loadPersistedFences replays fence configs from the database into the
// engine so a restart does not lose the fence set.
func (s *Server) loadPersistedFences(ctx context.Context, repo *metadata.Repository) error {
	fences, err := repo.ActiveFences(ctx)
	if err != nil {
		return err
	}

	for _, cfg := range fences {
		if err := s.processor.ApplyFence(&fence.FeedMessage{
			Action: fence.FeedActionUpsert,
			Fence:  cfg,
		}); err != nil {
			s.logger.Error("failed to re-register persisted fence",
				"fence_id", cfg.FenceID,
				"error", err,
			)
		}
	}

	s.logger.Info("persisted fences loaded", "count", len(fences))
	return nil
}

func (s *Server) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Shutdown gracefully shuts down the service: stop the feed and pipeline,
// flush windows, then release storage.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down processor service")

	var shutdownErr error

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to stop metrics server", "error", err)
		}
		cancel()
	}

	if s.feed != nil {
		if err := s.feed.Stop(); err != nil {
			s.logger.Error("failed to stop fence feed", "error", err)
			shutdownErr = fmt.Errorf("fence feed shutdown error: %w", err)
		}
	}

	if s.processor != nil {
		s.processor.Stop()
	}

	if s.cooldowns != nil {
		if err := s.cooldowns.Close(); err != nil {
			s.logger.Error("failed to close cooldown store", "error", err)
		}
	}

	if s.db != nil {
		s.logger.Info("closing database connection")
		if err := metadata.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; database close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("database close error: %w", err)
			}
		}
	}

	if shutdownErr != nil {
		s.logger.Error("processor service shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("processor service shutdown completed successfully")
	return nil
}
