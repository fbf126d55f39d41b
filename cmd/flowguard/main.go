package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flow-threat-detector/internal/alert"
	"flow-threat-detector/internal/buffer"
	"flow-threat-detector/internal/live"
	"flow-threat-detector/internal/pipeline"
	"flow-threat-detector/internal/scorer"
	"flow-threat-detector/internal/server"
	"flow-threat-detector/internal/stream"
	"flow-threat-detector/internal/utils"

	"github.com/joho/godotenv"
)

func main() {
	var (
		configFile = flag.String("config", "configs/flowguard.yaml", "Configuration file path (YAML)")
	)
	flag.Parse()

	// Secrets (Redis password etc.) come from the environment and are
	// expanded into the YAML config.
	_ = godotenv.Load()

	config, err := utils.LoadFlowguardConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load YAML config %s: %v\n", *configFile, err)
		fmt.Println("Using default configuration...")
		config = utils.GetDefaultFlowguardConfig()
	} else {
		fmt.Printf("Loaded configuration from %s\n", *configFile)
	}

	logger := utils.NewLogger(config.Logging.Level, config.Logging.Format)

	registry := alert.NewRegistry()
	metrics := alert.NewMetrics(registry)

	ensemble, err := scorer.Load(config.Scorer.ModelPath, scorer.Options{
		DecisionThreshold:   config.Scorer.DecisionThreshold,
		ThresholdPolarity:   config.Scorer.ThresholdPolarity,
		StrictFeatures:      config.Scorer.StrictFeatures,
		IncludeExplanations: config.Scorer.IncludeExplanations,
	}, logger)
	if err != nil {
		fmt.Printf("Failed to load model: %v\n", err)
		os.Exit(1)
	}
	logger.Infof("Loaded ensemble %s (%d base models, threshold %.4f %s)",
		ensemble.Version(), len(ensemble.BaseModelNames()),
		config.Scorer.DecisionThreshold, config.Scorer.ThresholdPolarity)

	buf, err := buffer.New(buffer.Config{
		SoftTrigger:    config.Buffer.SoftTrigger,
		MaxWait:        time.Duration(config.Buffer.MaxWaitSeconds) * time.Second,
		Capacity:       config.Buffer.Capacity,
		EvictionPolicy: config.Buffer.EvictionPolicy,
	}, logger)
	if err != nil {
		fmt.Printf("Invalid buffer configuration: %v\n", err)
		os.Exit(1)
	}

	// The stream is advisory for the detector: a missing Redis lowers
	// the deployment to score-and-broadcast-only, it never stops
	// ingestion.
	var publisher pipeline.Publisher
	var streamClient *stream.Client
	if config.Redis.Enabled {
		streamClient, err = stream.NewClient(stream.Config{
			Addr:      config.Redis.Addr,
			Password:  config.Redis.Password,
			DB:        config.Redis.DB,
			Stream:    config.Redis.Stream,
			DLQStream: config.Redis.DLQStream,
			MaxLen:    config.Redis.MaxLen,
		}, logger)
		if err != nil {
			logger.Warnf("Stream publishing unavailable: %v", err)
		} else {
			publisher = streamClient
			defer streamClient.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := live.NewHub(time.Duration(config.Live.HeartbeatSeconds)*time.Second, metrics, logger)
	go hub.Run(ctx)

	processor := pipeline.NewProcessor(buf, ensemble, publisher, hub, metrics, pipeline.Config{
		ClientID:        config.Identity.ClientID,
		ResourceID:      config.Identity.ResourceID,
		MonitorInterval: time.Duration(config.Buffer.MonitorIntervalSeconds) * time.Second,
	}, logger)
	go processor.Run(ctx)

	srv := server.New(processor, ensemble, publisher, hub, registry, config, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
}
