package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pasturelabs/herdwatch/internal/fence"
	"github.com/pasturelabs/herdwatch/internal/geo"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
	pkglogger "github.com/pasturelabs/herdwatch/pkg/logger"
	"github.com/pasturelabs/herdwatch/pkg/mq"
)

var fencefeedCmd = &cobra.Command{
	Use:   "fencefeed",
	Short: "Publish fence configurations",
	Long: `Read virtual fence polygons from a YAML file and publish them as
upserts onto the fence-config control queue.`,
	RunE: runFencefeed,
}

func init() {
	rootCmd.AddCommand(fencefeedCmd)

	fencefeedCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	fencefeedCmd.Flags().String("fence-feed-queue", "fence-config", "control queue fence configs are published to")
	fencefeedCmd.Flags().String("file", "fences.yaml", "YAML file holding the fence definitions")

	_ = viper.BindPFlag("fencefeed.rabbitmq.url", fencefeedCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("fencefeed.rabbitmq.fence_feed_queue", fencefeedCmd.Flags().Lookup("fence-feed-queue"))
	_ = viper.BindPFlag("fencefeed.file", fencefeedCmd.Flags().Lookup("file"))
}

// fenceFileEntry mirrors fence.Config with mapstructure-friendly keys for the
// YAML fence file.
type fenceFileEntry struct {
	FenceID                  string  `mapstructure:"fence_id"`
	Name                     string  `mapstructure:"name"`
	FenceType                string  `mapstructure:"fence_type"`
	BufferMeters             float64 `mapstructure:"buffer_meters"`
	AlertOnEntry             bool    `mapstructure:"alert_on_entry"`
	AlertOnExit              bool    `mapstructure:"alert_on_exit"`
	NotificationDelaySeconds int     `mapstructure:"notification_delay_seconds"`
	Active                   bool    `mapstructure:"active"`
	Vertices                 []struct {
		Lat float64 `mapstructure:"lat"`
		Lon float64 `mapstructure:"lon"`
	} `mapstructure:"vertices"`
}

func (e *fenceFileEntry) toConfig() *fence.Config {
	cfg := &fence.Config{
		FenceID:                  e.FenceID,
		Name:                     e.Name,
		Type:                     e.FenceType,
		BufferMeters:             e.BufferMeters,
		AlertOnEntry:             e.AlertOnEntry,
		AlertOnExit:              e.AlertOnExit,
		NotificationDelaySeconds: e.NotificationDelaySeconds,
		Active:                   e.Active,
	}
	for _, v := range e.Vertices {
		cfg.Vertices = append(cfg.Vertices, geo.Vertex{Lat: v.Lat, Lon: v.Lon})
	}
	return cfg
}

func runFencefeed(_ *cobra.Command, _ []string) error {
	logger := GetLogger()

	file := viper.GetString("fencefeed.file")
	logger.Info("loading fence definitions", "file", file)

	fences, err := loadFenceFile(file)
	if err != nil {
		logger.Error("failed to load fence file", "error", err)
		return err
	}

	client := mq.New(
		viper.GetString("fencefeed.rabbitmq.fence_feed_queue"),
		viper.GetString("fencefeed.rabbitmq.url"),
		pkglogger.Component(logger, "mq-client"),
	)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close MQ client", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, cfg := range fences {
		if err := cfg.Validate(); err != nil {
			logger.Error("skipping invalid fence", "fence_id", cfg.FenceID, "error", err)
			continue
		}

		payload, err := telemetry.Encode(&fence.FeedMessage{
			Action: fence.FeedActionUpsert,
			Fence:  cfg,
		})
		if err != nil {
			return fmt.Errorf("failed to encode fence %s: %w", cfg.FenceID, err)
		}

		if err := client.Push(ctx, payload); err != nil {
			return fmt.Errorf("failed to publish fence %s: %w", cfg.FenceID, err)
		}

		logger.Info("fence published",
			"fence_id", cfg.FenceID,
			"fence_type", cfg.Type,
			"vertices", len(cfg.Vertices),
		)
	}

	logger.Info("fence feed complete", "count", len(fences))
	return nil
}

// loadFenceFile reads the fence definitions from a YAML file of the shape:
//
//	fences:
//	  - fence_id: paddock-1
//	    fence_type: containment
//	    vertices: [{lat: 48.0, lon: 11.0}, ...]
func loadFenceFile(path string) ([]*fence.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read fence file: %w", err)
	}

	var entries []fenceFileEntry
	if err := v.UnmarshalKey("fences", &entries); err != nil {
		return nil, fmt.Errorf("failed to decode fence file: %w", err)
	}

	fences := make([]*fence.Config, 0, len(entries))
	for i := range entries {
		fences = append(fences, entries[i].toConfig())
	}
	return fences, nil
}
