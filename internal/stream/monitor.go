package stream

import (
	"context"
	"time"

	"flow-threat-detector/internal/alert"

	"github.com/sirupsen/logrus"
)

// Monitor periodically samples stream depth, pending entries, and DLQ
// depth into the Prometheus gauges.
type Monitor struct {
	client   *Client
	metrics  *alert.Metrics
	interval time.Duration
	logger   *logrus.Logger
}

func NewMonitor(client *Client, metrics *alert.Metrics, interval time.Duration, logger *logrus.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		client:   client,
		metrics:  metrics,
		interval: interval,
		logger:   logger,
	}
}

// Run samples until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if n, err := m.client.StreamLen(ctx); err == nil {
		m.metrics.StreamDepth.Set(float64(n))
	} else {
		m.logger.Debugf("Stream length sample failed: %v", err)
	}

	if n, err := m.client.PendingCount(ctx); err == nil {
		m.metrics.StreamPending.Set(float64(n))
	} else {
		m.logger.Debugf("Pending count sample failed: %v", err)
	}

	if n, err := m.client.DLQLen(ctx); err == nil {
		m.metrics.DLQDepth.Set(float64(n))
	} else {
		m.logger.Debugf("DLQ length sample failed: %v", err)
	}
}
