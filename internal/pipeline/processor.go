package pipeline

import (
	"context"
	"math"
	"time"

	"flow-threat-detector/internal/alert"
	"flow-threat-detector/internal/buffer"
	"flow-threat-detector/internal/model"
	"flow-threat-detector/internal/scorer"

	"github.com/sirupsen/logrus"
)

// Scorer classifies whole batches of flows.
type Scorer interface {
	Score(records []model.FlowRecord) (*scorer.Result, error)
	Version() string
}

// Publisher appends prediction messages to the durable stream.
type Publisher interface {
	Publish(ctx context.Context, msg *model.StreamMessage) (string, error)
}

// Broadcaster pushes events to connected live clients.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Config carries the processor settings that do not belong to the
// buffer or the scorer themselves.
type Config struct {
	// ClientID and ResourceID identify published batches. Publishing
	// is disabled when either is empty.
	ClientID   string
	ResourceID string
	// MonitorInterval is how often the timeout check and buffer
	// gauges run.
	MonitorInterval time.Duration
}

// Processor drives the detection pipeline: it drains the buffer,
// scores the batch, folds the outcome into status and metrics, and
// hands results to the stream and live subscribers.
type Processor struct {
	buffer    *buffer.AdaptiveBuffer
	scorer    Scorer
	publisher Publisher
	hub       Broadcaster
	status    *Status
	metrics   *alert.Metrics
	logger    *logrus.Logger

	clientID        string
	resourceID      string
	monitorInterval time.Duration

	flushCh     chan struct{}
	lastEvicted uint64
}

// NewProcessor creates a processor. publisher and hub may be nil; the
// pipeline then runs detection without streaming or live updates.
func NewProcessor(buf *buffer.AdaptiveBuffer, sc Scorer, publisher Publisher, hub Broadcaster, metrics *alert.Metrics, cfg Config, logger *logrus.Logger) *Processor {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = time.Second
	}
	if publisher != nil && (cfg.ClientID == "" || cfg.ResourceID == "") {
		logger.Warnf("Stream publishing disabled: client_id and resource_id are not configured")
		publisher = nil
	}

	return &Processor{
		buffer:          buf,
		scorer:          sc,
		publisher:       publisher,
		hub:             hub,
		status:          NewStatus(sc.Version()),
		metrics:         metrics,
		logger:          logger,
		clientID:        cfg.ClientID,
		resourceID:      cfg.ResourceID,
		monitorInterval: cfg.MonitorInterval,
		flushCh:         make(chan struct{}, 1),
	}
}

// Submit queues one flow and wakes the flush worker when the batch
// becomes due. Returns the buffer depth and whether a flush was
// triggered.
func (p *Processor) Submit(f model.FlowRecord) (int, bool) {
	size, due := p.buffer.Submit(f)
	p.status.RecordSubmission()
	p.metrics.FlowsReceived.Inc()
	p.metrics.BufferSize.Set(float64(size))
	if due {
		p.TriggerFlush()
	}
	return size, due
}

// TriggerFlush wakes the flush worker without blocking. Multiple
// triggers while a flush is running collapse into one.
func (p *Processor) TriggerFlush() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

// Flush processes whatever is buffered right now. Returns the batch
// statistics (nil if the buffer was empty) and how many flows were
// extracted.
func (p *Processor) Flush(ctx context.Context) (*model.BatchStatistics, int, error) {
	return p.processAvailable(ctx, "manual")
}

// Run owns all background flushing until the context is cancelled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.monitorInterval)
	defer ticker.Stop()

	p.logger.Infof("Batch processor started (model %s)", p.scorer.Version())

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Batch processor stopping")
			return
		case <-p.flushCh:
			p.processAvailable(ctx, "size")
		case <-ticker.C:
			if p.buffer.TimeoutDue() {
				p.processAvailable(ctx, "timeout")
			}
			p.updateGauges()
		}
	}
}

// Buffer exposes the underlying buffer for status endpoints.
func (p *Processor) Buffer() *buffer.AdaptiveBuffer {
	return p.buffer
}

// Status returns a snapshot of the pipeline counters.
func (p *Processor) Status() Snapshot {
	return p.status.Snapshot()
}

func (p *Processor) processAvailable(ctx context.Context, trigger string) (*model.BatchStatistics, int, error) {
	batch := p.buffer.ExtractBatch(0)
	if len(batch) == 0 {
		return nil, 0, nil
	}

	start := time.Now()

	flows, dropped := scorable(batch)
	if dropped > 0 {
		p.logger.Warnf("Dropped %d flows with unusable features", dropped)
		p.metrics.FlowsDropped.Add(float64(dropped))
	}
	if len(flows) == 0 {
		return nil, len(batch), nil
	}

	res, err := p.scorer.Score(flows)
	if err != nil {
		// Failed batches go back to the front of the queue; capacity
		// eviction bounds how long a bad batch can keep returning.
		restored := p.buffer.RestoreFront(batch)
		p.logger.Errorf("Batch scoring failed, restored %d/%d flows: %v", restored, len(batch), err)
		return nil, len(batch), err
	}

	stats := model.ComputeBatchStatistics(res.Predictions, time.Since(start))
	level := model.ThreatLevelForRate(stats.AttackRatePercent())
	p.status.RecordBatch(stats, level)
	p.recordBatchMetrics(trigger, stats, level)

	p.logger.Infof("Processed batch of %d flows in %.1fms: %d attacks, threat level %s",
		stats.TotalFlows, stats.ProcessingTimeMs, stats.AttackPredictions, level)

	p.publish(ctx, res.Predictions, stats)

	if p.hub != nil {
		p.hub.Broadcast("new_batch", map[string]any{
			"predictions":  res.Predictions,
			"statistics":   stats,
			"threat_level": level,
		})
	}

	return &stats, len(batch), nil
}

func (p *Processor) publish(ctx context.Context, predictions []model.PredictionResult, stats model.BatchStatistics) {
	if p.publisher == nil {
		return
	}

	msg := model.NewBatchMessage(p.clientID, p.resourceID, predictions, stats)
	if _, err := p.publisher.Publish(ctx, msg); err != nil {
		p.logger.Errorf("Failed to publish batch message: %v", err)
		p.metrics.PublishFailures.Inc()
	}
}

func (p *Processor) recordBatchMetrics(trigger string, stats model.BatchStatistics, level model.ThreatLevel) {
	p.metrics.BatchesProcessed.WithLabelValues(trigger).Inc()
	p.metrics.BatchSize.Observe(float64(stats.TotalFlows))
	p.metrics.BatchProcessingTime.Observe(stats.ProcessingTimeMs / 1000)
	p.metrics.Predictions.WithLabelValues("attack").Add(float64(stats.AttackPredictions))
	p.metrics.Predictions.WithLabelValues("benign").Add(float64(stats.BenignPredictions))
	p.metrics.ThreatLevel.Set(float64(level))
}

func (p *Processor) updateGauges() {
	p.metrics.BufferSize.Set(float64(p.buffer.Len()))
	p.metrics.BufferUtilization.Set(p.buffer.Utilization())

	evicted := p.buffer.EvictedTotal()
	if evicted > p.lastEvicted {
		p.metrics.FlowsEvicted.Add(float64(evicted - p.lastEvicted))
		p.lastEvicted = evicted
	}
}

// scorable splits out the flows the scorer can use. Flows with no
// features or non-finite values would fail the whole batch.
func scorable(batch []model.FlowRecord) ([]model.FlowRecord, int) {
	flows := make([]model.FlowRecord, 0, len(batch))
	for _, f := range batch {
		if usable(f) {
			flows = append(flows, f)
		}
	}
	return flows, len(batch) - len(flows)
}

func usable(f model.FlowRecord) bool {
	if len(f.Features) == 0 {
		return false
	}
	for _, v := range f.Features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
