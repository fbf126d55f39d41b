package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"flow-threat-detector/internal/live"
	"flow-threat-detector/internal/model"
	"flow-threat-detector/internal/pipeline"
	"flow-threat-detector/internal/scorer"
	"flow-threat-detector/internal/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ScoringModel is the slice of the ensemble the HTTP layer needs: the
// immediate scoring path plus the model description endpoint.
type ScoringModel interface {
	Score(records []model.FlowRecord) (*scorer.Result, error)
	Version() string
	Features() []string
	Threshold() (float64, string)
	BaseModelNames() []string
}

// Server exposes the detection pipeline over HTTP: flow ingestion,
// manual flush, buffer status, model info, the live WebSocket stream,
// and Prometheus metrics.
type Server struct {
	processor *pipeline.Processor
	ensemble  ScoringModel
	publisher pipeline.Publisher
	hub       *live.Hub
	registry  *prometheus.Registry
	config    *utils.FlowguardConfig
	logger    *logrus.Logger
	upgrader  websocket.Upgrader
}

// New creates the server. publisher and hub may be nil, which disables
// the single-prediction stream path and the live WebSocket endpoint
// respectively.
func New(processor *pipeline.Processor, ensemble ScoringModel, publisher pipeline.Publisher, hub *live.Hub, registry *prometheus.Registry, config *utils.FlowguardConfig, logger *logrus.Logger) *Server {
	return &Server{
		processor: processor,
		ensemble:  ensemble,
		publisher: publisher,
		hub:       hub,
		registry:  registry,
		config:    config,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/predict", s.Predict).Methods("POST")
	api.HandleFunc("/predict/buffered", s.PredictBuffered).Methods("POST")
	api.HandleFunc("/flush", s.Flush).Methods("POST")
	api.HandleFunc("/buffer/stats", s.BufferStats).Methods("GET")
	api.HandleFunc("/model", s.ModelInfo).Methods("GET")

	router.HandleFunc("/health", s.Health).Methods("GET", "OPTIONS")
	if s.hub != nil {
		router.HandleFunc("/ws/live", s.LiveStream).Methods("GET")
	}
	if s.registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	return router
}

// Run serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.config.Server.Port,
		Handler:           s.Router(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down detection server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	s.logger.Infof("Detection server starting on port %s", s.config.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
