package alert

import (
	"context"
	"sync"

	"flow-threat-detector/internal/model"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Dispatcher fans persisted alerts out to the registered notifiers.
// Delivery is decoupled from alert creation through a bounded channel
// so a slow notifier never stalls the stream consumer.
type Dispatcher struct {
	notifiers []Notifier
	logger    *logrus.Logger
	metrics   *Metrics
	mu        sync.RWMutex
	alertCh   chan model.Alert
	limiter   *rate.Limiter
}

// NewDispatcher creates a dispatcher. maxPerMinute <= 0 disables
// notification throttling.
func NewDispatcher(maxPerMinute int, metrics *Metrics, logger *logrus.Logger) *Dispatcher {
	var limiter *rate.Limiter
	if maxPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), maxPerMinute)
	}

	return &Dispatcher{
		notifiers: make([]Notifier, 0),
		logger:    logger,
		metrics:   metrics,
		alertCh:   make(chan model.Alert, 100),
		limiter:   limiter,
	}
}

func (d *Dispatcher) RegisterNotifier(notifier Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, notifier)
	d.logger.Infof("Registered alert notifier: %s", notifier.Name())
}

// Dispatch queues an alert for notification. It never blocks; when the
// queue is full the notification is dropped, not the alert itself.
func (d *Dispatcher) Dispatch(alert model.Alert) {
	select {
	case d.alertCh <- alert:
	default:
		d.logger.Error("Alert channel is full, dropping notification")
	}
}

// Run delivers queued alerts until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.alertCh:
			if d.limiter != nil && !d.limiter.Allow() {
				d.logger.Warnf("Notification rate limit exceeded, dropping notification for alert %s", alert.ID)
				continue
			}
			d.deliver(alert)
		}
	}
}

func (d *Dispatcher) deliver(alert model.Alert) {
	d.mu.RLock()
	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	d.mu.RUnlock()

	for _, notifier := range notifiers {
		if err := notifier.SendAlert(alert); err != nil {
			d.logger.Errorf("Failed to send alert via %s: %v", notifier.Name(), err)
			if d.metrics != nil {
				d.metrics.NotifierFailures.WithLabelValues(notifier.Name()).Inc()
			}
		}
	}
}
