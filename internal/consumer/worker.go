package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flow-threat-detector/internal/alert"
	"flow-threat-detector/internal/model"
	"flow-threat-detector/internal/stream"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StreamSource is the slice of the stream client the worker consumes.
type StreamSource interface {
	ReadGroup(ctx context.Context, consumer string, count int64, block time.Duration) ([]stream.Entry, error)
	ClaimStale(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]stream.Entry, error)
	Ack(ctx context.Context, ids ...string) error
	DeadLetter(ctx context.Context, entry stream.Entry, reason string) error
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
	ClearProcessed(ctx context.Context, messageID string) error
	IncrRetry(ctx context.Context, entryID string) (int64, error)
}

// AlertStore persists alerts.
type AlertStore interface {
	Create(ctx context.Context, a *model.Alert) error
}

// ResourceResolver maps a resource ID to its owner. ok is false when
// the resource is unknown.
type ResourceResolver interface {
	ResolveOwner(ctx context.Context, resourceID string) (ownerID string, ok bool, err error)
}

// Dispatcher queues alert notifications.
type Dispatcher interface {
	Dispatch(a model.Alert)
}

// Broadcaster pushes events to connected live clients.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Config holds the consumer group settings.
type Config struct {
	ConsumerPrefix string
	ReadCount      int64
	Block          time.Duration
	// MaxRetries is how many delivery attempts a failing entry gets
	// before it is dead lettered.
	MaxRetries int
	// ClaimMinIdle is how long an entry may sit unacknowledged before
	// any worker may claim it.
	ClaimMinIdle time.Duration
}

// Worker consumes prediction messages from the durable stream and
// turns qualifying batches into persisted alerts. Every entry ends in
// exactly one of: ack, retry (left pending), or dead letter.
type Worker struct {
	source     StreamSource
	store      AlertStore
	resolver   ResourceResolver
	hub        Broadcaster
	dispatcher Dispatcher
	policy     alert.Policy
	metrics    *alert.Metrics
	logger     *logrus.Logger
	cfg        Config
	name       string
}

func NewWorker(source StreamSource, store AlertStore, resolver ResourceResolver, hub Broadcaster, dispatcher Dispatcher, policy alert.Policy, metrics *alert.Metrics, cfg Config, logger *logrus.Logger) *Worker {
	if cfg.ConsumerPrefix == "" {
		cfg.ConsumerPrefix = "alerts_worker"
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = time.Minute
	}

	return &Worker{
		source:     source,
		store:      store,
		resolver:   resolver,
		hub:        hub,
		dispatcher: dispatcher,
		policy:     policy,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		name:       fmt.Sprintf("%s-%s", cfg.ConsumerPrefix, uuid.New().String()),
	}
}

// Name returns the unique consumer name within the group.
func (w *Worker) Name() string {
	return w.name
}

// Run consumes until the context is cancelled. Entries abandoned by
// dead consumers are reclaimed on startup and then once per claim
// window, which is also what makes retries come back around.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Infof("Consumer %s starting", w.name)

	w.claimStale(ctx)
	lastClaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Consumer %s stopping", w.name)
			return
		default:
		}

		if time.Since(lastClaim) >= w.cfg.ClaimMinIdle {
			w.claimStale(ctx)
			lastClaim = time.Now()
		}

		entries, err := w.source.ReadGroup(ctx, w.name, w.cfg.ReadCount, w.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Errorf("Stream read failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, entry := range entries {
			w.handleEntry(ctx, entry)
		}
	}
}

func (w *Worker) claimStale(ctx context.Context) {
	entries, err := w.source.ClaimStale(ctx, w.name, w.cfg.ClaimMinIdle, w.cfg.ReadCount)
	if err != nil {
		w.logger.Warnf("Stale entry claim failed: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	w.logger.Infof("Claimed %d stale entries", len(entries))
	for _, entry := range entries {
		w.handleEntry(ctx, entry)
	}
}

func (w *Worker) handleEntry(ctx context.Context, entry stream.Entry) {
	msg, err := model.DecodeStreamMessage(entry.Payload)
	if err != nil {
		w.logger.Warnf("Dead lettering undecodable entry %s: %v", entry.ID, err)
		w.deadLetter(ctx, entry, err.Error())
		return
	}

	first, err := w.source.MarkProcessed(ctx, msg.MessageID)
	if err != nil {
		// Cannot verify idempotency; leave the entry pending so a
		// later delivery can decide.
		w.logger.Errorf("Idempotency check failed for message %s: %v", msg.MessageID, err)
		w.count("error")
		return
	}
	if !first {
		w.logger.Debugf("Skipping duplicate message %s", msg.MessageID)
		w.ack(ctx, entry, "duplicate")
		return
	}

	ownerID, ok, err := w.resolver.ResolveOwner(ctx, msg.ResourceID)
	if err != nil {
		w.retryOrDead(ctx, entry, msg, fmt.Sprintf("owner lookup failed: %v", err))
		return
	}
	if !ok {
		w.logger.Warnf("No owner for resource %s, dropping message %s", msg.ResourceID, msg.MessageID)
		w.ack(ctx, entry, "unresolved")
		return
	}

	view := viewOf(msg)
	severity, shouldAlert := w.policy.Evaluate(view.totalFlows, view.attackCount)
	if !shouldAlert {
		w.ack(ctx, entry, "no_alert")
		return
	}

	a := w.buildAlert(msg, ownerID, severity, view)
	if err := w.store.Create(ctx, &a); err != nil {
		w.retryOrDead(ctx, entry, msg, fmt.Sprintf("alert persist failed: %v", err))
		return
	}

	w.metrics.AlertsCreated.WithLabelValues(a.Severity).Inc()
	w.logger.Infof("Created %s alert %s for resource %s (%d/%d attack flows)",
		a.Severity, a.ID, msg.ResourceID, view.attackCount, view.totalFlows)

	if w.hub != nil {
		w.hub.Broadcast("new_alert", a)
	}
	if w.dispatcher != nil {
		w.dispatcher.Dispatch(a)
	}

	w.ack(ctx, entry, "alert")
}

// retryOrDead handles a transient failure after the message was
// claimed. Below the retry ceiling the idempotency claim is released
// and the entry stays pending; at the ceiling it is dead lettered with
// the claim kept, so the message can never fire twice. A failed dead
// letter write also releases the claim and leaves the entry pending.
func (w *Worker) retryOrDead(ctx context.Context, entry stream.Entry, msg *model.StreamMessage, reason string) {
	retries, err := w.source.IncrRetry(ctx, entry.ID)
	if err != nil {
		w.logger.Errorf("Retry counter failed for entry %s: %v", entry.ID, err)
	}

	if retries >= int64(w.cfg.MaxRetries) {
		w.logger.Errorf("Entry %s exhausted %d retries: %s", entry.ID, w.cfg.MaxRetries, reason)
		if err := w.source.DeadLetter(ctx, entry, reason); err != nil {
			// The entry never reached the DLQ, so it stays pending and
			// the claim must go too: a redelivery that finds the claim
			// would be acked as a duplicate and the payload lost.
			w.logger.Errorf("Failed to dead letter entry %s: %v", entry.ID, err)
			if cerr := w.source.ClearProcessed(ctx, msg.MessageID); cerr != nil {
				w.logger.Errorf("Failed to release claim on message %s: %v", msg.MessageID, cerr)
			}
			w.count("error")
			return
		}
		w.count("dead_letter")
		return
	}

	if err := w.source.ClearProcessed(ctx, msg.MessageID); err != nil {
		w.logger.Errorf("Failed to release claim on message %s: %v", msg.MessageID, err)
	}
	w.logger.Warnf("Entry %s left pending (attempt %d/%d): %s", entry.ID, retries, w.cfg.MaxRetries, reason)
	w.count("retry")
}

func (w *Worker) ack(ctx context.Context, entry stream.Entry, outcome string) {
	if err := w.source.Ack(ctx, entry.ID); err != nil {
		w.logger.Errorf("Failed to ack entry %s: %v", entry.ID, err)
	}
	w.count(outcome)
}

func (w *Worker) deadLetter(ctx context.Context, entry stream.Entry, reason string) {
	if err := w.source.DeadLetter(ctx, entry, reason); err != nil {
		w.logger.Errorf("Failed to dead letter entry %s: %v", entry.ID, err)
		w.count("error")
		return
	}
	w.count("dead_letter")
}

func (w *Worker) count(outcome string) {
	w.metrics.EntriesProcessed.WithLabelValues(outcome).Inc()
}

// batchView flattens batch and single-flow messages into the counts
// the alert policy works on.
type batchView struct {
	totalFlows  int
	attackCount int
	attackPct   float64
	stats       *model.BatchStatistics
	sample      *model.PredictionResult
	sourceIP    string
	destIP      string
}

func viewOf(msg *model.StreamMessage) batchView {
	if msg.BatchResults != nil {
		stats := msg.BatchResults.Statistics
		v := batchView{
			totalFlows:  stats.TotalFlows,
			attackCount: stats.AttackPredictions,
			attackPct:   stats.AttackRatePercent(),
			stats:       &stats,
			sourceIP:    "multiple",
		}
		for i := range msg.BatchResults.Predictions {
			if msg.BatchResults.Predictions[i].IsAttack {
				v.sample = &msg.BatchResults.Predictions[i]
				break
			}
		}
		if v.sample == nil && len(msg.BatchResults.Predictions) > 0 {
			v.sample = &msg.BatchResults.Predictions[0]
		}
		return v
	}

	v := batchView{totalFlows: 1, sample: msg.Prediction}
	if msg.Prediction.IsAttack {
		v.attackCount = 1
		v.attackPct = 100
	}
	if msg.FlowMeta != nil {
		v.sourceIP = msg.FlowMeta.SrcIP
		v.destIP = msg.FlowMeta.DstIP
	}
	return v
}

func (w *Worker) buildAlert(msg *model.StreamMessage, ownerID, severity string, v batchView) model.Alert {
	version := "unknown"
	if v.sample != nil {
		version = v.sample.ModelVersion
	}

	alertType := model.AlertTypeBatchDetection
	title := fmt.Sprintf("Batch Attack Detected (%s)", version)
	description := fmt.Sprintf("%d of %d flows flagged as attacks (%.1f%%)",
		v.attackCount, v.totalFlows, v.attackPct)
	if !msg.IsBatch() {
		alertType = model.AlertTypeFlowDetection
		title = fmt.Sprintf("Malicious Flow Detected (%s)", version)
		description = fmt.Sprintf("Flow from %s flagged as attack (probability %.3f)",
			v.sourceIP, v.sample.AttackProbability)
	}

	evidence := model.AlertEvidence{
		BatchStats:       v.stats,
		SamplePrediction: v.sample,
		FlowMeta:         msg.FlowMeta,
		MessageID:        msg.MessageID,
		MessageTimestamp: msg.Timestamp,
		ReceivedAt:       time.Now().UTC(),
	}
	raw, err := json.Marshal(evidence)
	if err != nil {
		w.logger.Warnf("Failed to marshal alert evidence for message %s: %v", msg.MessageID, err)
	}

	return model.Alert{
		ID:              uuid.New().String(),
		ClientID:        msg.ClientID,
		ResourceID:      msg.ResourceID,
		OwnerID:         ownerID,
		AlertType:       alertType,
		Severity:        severity,
		Title:           title,
		Description:     description,
		SourceIP:        v.sourceIP,
		DestinationIP:   v.destIP,
		DetectionMethod: version,
		ConfidenceScore: alert.Confidence(v.attackPct),
		Evidence:        raw,
		CreatedAt:       time.Now().UTC(),
	}
}
