package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"flow-threat-detector/api/internal/storage"
	"flow-threat-detector/internal/live"
	"flow-threat-detector/internal/stream"
	"flow-threat-detector/internal/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Handlers serves the alert query API: persisted alerts, severity
// stats, dead letter inspection, and the live alert WebSocket.
type Handlers struct {
	alerts   storage.AlertRepository
	streamCl *stream.Client
	db       *sqlx.DB
	hub      *live.Hub
	config   *utils.AlertsConfig
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func NewHandlers(alerts storage.AlertRepository, streamCl *stream.Client, db *sqlx.DB, hub *live.Hub, config *utils.AlertsConfig, logger *logrus.Logger) *Handlers {
	return &Handlers{
		alerts:   alerts,
		streamCl: streamCl,
		db:       db,
		hub:      hub,
		config:   config,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// GetAlerts lists persisted alerts, newest first, with optional
// severity and client filters.
func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	filter := storage.AlertFilter{
		Limit:    limit,
		Severity: r.URL.Query().Get("severity"),
		ClientID: r.URL.Query().Get("client_id"),
	}

	alerts, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		h.logger.Errorf("Failed to list alerts: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": alerts,
		"count": len(alerts),
	})
}

func (h *Handlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	alert, err := h.alerts.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Errorf("Failed to load alert %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}
	if alert == nil {
		writeError(w, http.StatusNotFound, "Alert not found")
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// GetAlertStats reports alert counts by severity.
func (h *Handlers) GetAlertStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.alerts.CountBySeverity(r.Context())
	if err != nil {
		h.logger.Errorf("Failed to count alerts: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to count alerts")
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":       total,
		"by_severity": counts,
	})
}

// GetDLQ returns the newest dead letter entries for manual inspection.
func (h *Handlers) GetDLQ(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 25
	}
	if limit > 200 {
		limit = 200
	}

	entries, err := h.streamCl.DLQEntries(r.Context(), int64(limit))
	if err != nil {
		h.logger.Errorf("Failed to read DLQ: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read dead letter queue")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": entries,
		"count": len(entries),
	})
}

// Health reports the service state including its dependencies.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	redisState := "ok"
	if err := h.streamCl.Ping(ctx); err != nil {
		redisState = err.Error()
	}
	postgresState := "ok"
	if err := h.db.PingContext(ctx); err != nil {
		postgresState = err.Error()
	}

	status := http.StatusOK
	state := "ok"
	if redisState != "ok" || postgresState != "ok" {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   state,
		"redis":    redisState,
		"postgres": postgresState,
	})
}

// StreamAlerts upgrades the connection and relays new_alert and
// heartbeat events until the client disconnects.
func (h *Handlers) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}

	sub := h.hub.Subscribe()
	defer func() {
		h.hub.Unsubscribe(sub)
		conn.Close()
	}()

	h.logger.Debugf("Alert stream client %s connected from %s", sub.ID, r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.Channel:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
