package live

import (
	"context"
	"sync"
	"time"

	"flow-threat-detector/internal/alert"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event types pushed to live clients.
const (
	TypeNewBatch      = "new_batch"
	TypeNewPrediction = "new_prediction"
	TypeNewAlert      = "new_alert"
	TypeHeartbeat     = "heartbeat"
)

// Message is the envelope for every live event.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Subscriber receives live messages over a buffered channel. A
// subscriber that stops draining loses messages, never blocks the hub.
type Subscriber struct {
	ID      string
	Channel chan Message
}

// Hub fans events out to all connected live clients.
type Hub struct {
	mu        sync.RWMutex
	subs      map[*Subscriber]bool
	metrics   *alert.Metrics
	logger    *logrus.Logger
	heartbeat time.Duration
}

// NewHub creates a hub. metrics may be nil.
func NewHub(heartbeat time.Duration, metrics *alert.Metrics, logger *logrus.Logger) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		subs:      make(map[*Subscriber]bool),
		metrics:   metrics,
		logger:    logger,
		heartbeat: heartbeat,
	}
}

func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:      uuid.New().String(),
		Channel: make(chan Message, 100),
	}

	h.mu.Lock()
	h.subs[sub] = true
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debugf("Live subscriber %s connected (%d total)", sub.ID, count)
	h.setGauge(count)
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub)
	count := len(h.subs)
	h.mu.Unlock()

	close(sub.Channel)
	h.logger.Debugf("Live subscriber %s disconnected (%d total)", sub.ID, count)
	h.setGauge(count)
}

// Broadcast wraps data in a Message and offers it to every subscriber.
func (h *Hub) Broadcast(eventType string, data any) {
	msg := Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.Channel <- msg:
		default:
			// Channel full, skip
		}
	}
}

// Run emits heartbeats until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(TypeHeartbeat, nil)
		}
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) setGauge(count int) {
	if h.metrics != nil {
		h.metrics.LiveSubscribers.Set(float64(count))
	}
}
