package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pasturelabs/herdwatch/internal/simulator"
)

var collarsimCmd = &cobra.Command{
	Use:   "collarsim",
	Short: "Run the collar simulator",
	Long: `Run the collar simulator that:
- Simulates a herd of livestock collars on one farm
- Generates correlated vital signs and paddock movement
- Publishes raw telemetry to RabbitMQ`,
	RunE: runCollarsim,
}

func init() {
	rootCmd.AddCommand(collarsimCmd)

	// Simulator-specific flags
	collarsimCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	collarsimCmd.Flags().String("ingest-queue", "telemetry-raw", "queue raw telemetry is published to")
	collarsimCmd.Flags().String("farm-id", "farm-1", "farm id stamped on generated events")
	collarsimCmd.Flags().Int("herd-size", 10, "number of collars to simulate")
	collarsimCmd.Flags().Float64("center-lat", 48.0045, "paddock center latitude")
	collarsimCmd.Flags().Float64("center-lon", 11.0065, "paddock center longitude")
	collarsimCmd.Flags().Duration("interval", 5*time.Second, "interval between readings per collar")

	// Bind flags to viper
	_ = viper.BindPFlag("collarsim.rabbitmq.url", collarsimCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("collarsim.rabbitmq.ingest_queue", collarsimCmd.Flags().Lookup("ingest-queue"))
	_ = viper.BindPFlag("collarsim.farm_id", collarsimCmd.Flags().Lookup("farm-id"))
	_ = viper.BindPFlag("collarsim.herd_size", collarsimCmd.Flags().Lookup("herd-size"))
	_ = viper.BindPFlag("collarsim.center_lat", collarsimCmd.Flags().Lookup("center-lat"))
	_ = viper.BindPFlag("collarsim.center_lon", collarsimCmd.Flags().Lookup("center-lon"))
	_ = viper.BindPFlag("collarsim.interval", collarsimCmd.Flags().Lookup("interval"))
}

func runCollarsim(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting collar simulator")

	config := &simulator.ServerConfig{
		Logger:      logger,
		RabbitMQURL: viper.GetString("collarsim.rabbitmq.url"),
		QueueName:   viper.GetString("collarsim.rabbitmq.ingest_queue"),
		FarmID:      viper.GetString("collarsim.farm_id"),
		HerdSize:    viper.GetInt("collarsim.herd_size"),
		CenterLat:   viper.GetFloat64("collarsim.center_lat"),
		CenterLon:   viper.GetFloat64("collarsim.center_lon"),
		Interval:    viper.GetDuration("collarsim.interval"),
	}

	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator server", "error", err)
		return err
	}

	logger.Info("simulator configuration",
		"rabbitmq_url", config.RabbitMQURL,
		"ingest_queue", config.QueueName,
		"farm_id", config.FarmID,
		"herd_size", config.HerdSize,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator server error", "error", err)
		return err
	}

	logger.Info("simulator stopped")
	return nil
}
