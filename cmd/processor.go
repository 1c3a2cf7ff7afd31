package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pasturelabs/herdwatch/internal/processor"
)

var processorCmd = &cobra.Command{
	Use:   "processor",
	Short: "Run the stream processor",
	Long: `Run the stream processor that:
- Consumes raw collar telemetry from RabbitMQ
- Enriches records with entity metadata from PostgreSQL
- Detects vital-sign anomalies and virtual fence violations
- Publishes enriched records, alerts and windowed rollups`,
	RunE: runProcessor,
}

func init() {
	rootCmd.AddCommand(processorCmd)

	// Processor-specific flags
	processorCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	processorCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	processorCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	processorCmd.Flags().String("db-password", "", "PostgreSQL password")
	processorCmd.Flags().String("db-name", "herdwatch", "PostgreSQL database name")
	processorCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	processorCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	processorCmd.Flags().String("ingest-queue", "telemetry-raw", "queue raw telemetry is consumed from")
	processorCmd.Flags().String("enriched-queue", "telemetry-enriched", "queue enriched records are published to")
	processorCmd.Flags().String("alerts-queue", "alerts", "queue alerts are published to")
	processorCmd.Flags().String("windows-queue", "metrics-windowed", "queue windowed rollups are published to")
	processorCmd.Flags().String("fence-feed-queue", "fence-config", "control queue fence configs arrive on")
	processorCmd.Flags().Int("workers", 4, "number of shard workers")
	processorCmd.Flags().Duration("cache-ttl", 5*time.Minute, "metadata cache TTL")
	processorCmd.Flags().String("cooldown-path", "", "BadgerDB directory for durable alert cooldowns (empty: in-memory)")
	processorCmd.Flags().Int("metrics-port", 9090, "Prometheus metrics port (0 disables)")

	// Bind flags to viper
	_ = viper.BindPFlag("processor.db.host", processorCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("processor.db.port", processorCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("processor.db.user", processorCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("processor.db.password", processorCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("processor.db.name", processorCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("processor.db.sslmode", processorCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("processor.rabbitmq.url", processorCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("processor.rabbitmq.ingest_queue", processorCmd.Flags().Lookup("ingest-queue"))
	_ = viper.BindPFlag("processor.rabbitmq.enriched_queue", processorCmd.Flags().Lookup("enriched-queue"))
	_ = viper.BindPFlag("processor.rabbitmq.alerts_queue", processorCmd.Flags().Lookup("alerts-queue"))
	_ = viper.BindPFlag("processor.rabbitmq.windows_queue", processorCmd.Flags().Lookup("windows-queue"))
	_ = viper.BindPFlag("processor.rabbitmq.fence_feed_queue", processorCmd.Flags().Lookup("fence-feed-queue"))
	_ = viper.BindPFlag("processor.workers", processorCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("processor.cache_ttl", processorCmd.Flags().Lookup("cache-ttl"))
	_ = viper.BindPFlag("processor.cooldown_path", processorCmd.Flags().Lookup("cooldown-path"))
	_ = viper.BindPFlag("processor.metrics_port", processorCmd.Flags().Lookup("metrics-port"))
}

func runProcessor(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting processor service")

	config := &processor.ServerConfig{
		Logger:         logger,
		DBHost:         viper.GetString("processor.db.host"),
		DBPort:         viper.GetInt("processor.db.port"),
		DBUser:         viper.GetString("processor.db.user"),
		DBPassword:     viper.GetString("processor.db.password"),
		DBName:         viper.GetString("processor.db.name"),
		DBSSLMode:      viper.GetString("processor.db.sslmode"),
		RabbitMQURL:    viper.GetString("processor.rabbitmq.url"),
		IngestQueue:    viper.GetString("processor.rabbitmq.ingest_queue"),
		EnrichedQueue:  viper.GetString("processor.rabbitmq.enriched_queue"),
		AlertsQueue:    viper.GetString("processor.rabbitmq.alerts_queue"),
		WindowsQueue:   viper.GetString("processor.rabbitmq.windows_queue"),
		FenceFeedQueue: viper.GetString("processor.rabbitmq.fence_feed_queue"),
		Workers:        viper.GetInt("processor.workers"),
		CacheTTL:       viper.GetDuration("processor.cache_ttl"),
		CooldownPath:   viper.GetString("processor.cooldown_path"),
		MetricsPort:    viper.GetInt("processor.metrics_port"),
	}

	server, err := processor.NewServer(config)
	if err != nil {
		logger.Error("failed to create processor server", "error", err)
		return err
	}

	logger.Info("processor server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"rabbitmq_url", config.RabbitMQURL,
		"ingest_queue", config.IngestQueue,
		"workers", config.Workers,
		"metrics_port", config.MetricsPort,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("processor server error", "error", err)
		return err
	}

	logger.Info("processor server stopped")
	return nil
}
