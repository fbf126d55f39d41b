package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flow-threat-detector/api/internal/handlers"
	"flow-threat-detector/api/internal/storage"
	"flow-threat-detector/internal/alert"
	"flow-threat-detector/internal/consumer"
	"flow-threat-detector/internal/live"
	"flow-threat-detector/internal/stream"
	"flow-threat-detector/internal/utils"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configFile = flag.String("config", "configs/alerts.yaml", "Configuration file path (YAML)")
	)
	flag.Parse()

	// Database DSN and Redis password come from the environment and
	// are expanded into the YAML config.
	_ = godotenv.Load()

	config, err := utils.LoadAlertsConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.NewLogger(config.Logging.Level, config.Logging.Format)

	registry := alert.NewRegistry()
	metrics := alert.NewMetrics(registry)

	db, err := storage.NewPostgresDB(config.Database.DSN, logger)
	if err != nil {
		logger.Fatalf("Database connection failed: %v", err)
	}
	defer db.Close()

	if err := storage.MigrateDB(db, config.Database.MigrationsPath, logger); err != nil {
		logger.Fatalf("Database migration failed: %v", err)
	}

	alertRepo := storage.NewAlertRepository(db, logger)
	resourceRepo := storage.NewResourceRepository(db, logger)

	streamClient, err := stream.NewClient(stream.Config{
		Addr:      config.Redis.Addr,
		Password:  config.Redis.Password,
		DB:        config.Redis.DB,
		Stream:    config.Redis.Stream,
		Group:     config.Redis.Group,
		DLQStream: config.Redis.DLQStream,
		DedupTTL:  time.Duration(config.Consumer.DedupTTLHours) * time.Hour,
		RetryTTL:  time.Duration(config.Consumer.RetryTTLSeconds) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatalf("Stream connection failed: %v", err)
	}
	defer streamClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := streamClient.EnsureGroup(ctx); err != nil {
		logger.Fatalf("Consumer group setup failed: %v", err)
	}

	hub := live.NewHub(time.Duration(config.Live.HeartbeatSeconds)*time.Second, metrics, logger)
	go hub.Run(ctx)

	dispatcher := alert.NewDispatcher(config.Alerting.MaxAlertsPerMinute, metrics, logger)
	registerNotifiers(dispatcher, config, logger)
	go dispatcher.Run(ctx)

	policy := alert.Policy{
		MinBatchFlows:  config.Alerting.MinBatchFlows,
		MinAttackRatio: config.Alerting.MinAttackRatio,
		CriticalPct:    config.Alerting.CriticalPct,
		HighPct:        config.Alerting.HighPct,
		MediumPct:      config.Alerting.MediumPct,
	}

	workerCfg := consumer.Config{
		ConsumerPrefix: config.Consumer.ConsumerPrefix,
		ReadCount:      config.Consumer.ReadCount,
		Block:          time.Duration(config.Consumer.BlockSeconds) * time.Second,
		MaxRetries:     config.Consumer.MaxRetries,
		ClaimMinIdle:   time.Duration(config.Consumer.ClaimMinIdleSeconds) * time.Second,
	}
	for i := 0; i < config.Consumer.Workers; i++ {
		worker := consumer.NewWorker(streamClient, alertRepo, resourceRepo, hub, dispatcher, policy, metrics, workerCfg, logger)
		go worker.Run(ctx)
	}

	monitor := stream.NewMonitor(streamClient, metrics, 15*time.Second, logger)
	go monitor.Run(ctx)

	h := handlers.NewHandlers(alertRepo, streamClient, db, hub, config, logger)

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/alerts/stats", h.GetAlertStats).Methods("GET")
	api.HandleFunc("/alerts", h.GetAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}", h.GetAlert).Methods("GET")
	api.HandleFunc("/dlq", h.GetDLQ).Methods("GET")

	router.HandleFunc("/health", h.Health).Methods("GET", "OPTIONS")
	router.HandleFunc("/ws/alerts", h.StreamAlerts).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	srv := &http.Server{
		Addr:              ":" + config.Server.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down alerts service...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	logger.Infof("Alerts service starting on port %s (%d consumer workers)", config.Server.Port, config.Consumer.Workers)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}

func registerNotifiers(dispatcher *alert.Dispatcher, config *utils.AlertsConfig, logger *logrus.Logger) {
	if config.Alerting.Channels.Log {
		dispatcher.RegisterNotifier(alert.NewLogAlertNotifier(logger))
	}
	if config.Alerting.Channels.Telegram {
		tg := config.Alerting.Telegram
		dispatcher.RegisterNotifier(alert.NewTelegramNotifierWithTemplate(
			tg.BotToken, tg.ChatID, tg.ParseMode, tg.Enabled, tg.MessageTemplate, logger))
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
