package buffer

import (
	"fmt"
	"sync"
	"time"

	"flow-threat-detector/internal/model"

	"github.com/sirupsen/logrus"
)

// Eviction policies applied when a submit arrives at a full buffer.
const (
	EvictOldest = "drop_oldest"
	EvictNewest = "drop_newest"
)

const (
	DefaultSoftTrigger = 500
	DefaultMaxWait     = 5 * time.Second
	DefaultCapacity    = 2000

	evictionLogEvery = 100
)

// Config controls batching behavior.
type Config struct {
	// SoftTrigger is the queue depth at which a flush becomes due.
	SoftTrigger int
	// MaxWait bounds how long a flow may sit queued before a flush
	// becomes due regardless of depth.
	MaxWait time.Duration
	// Capacity is the hard bound on queued flows.
	Capacity int
	// EvictionPolicy picks which flow is dropped at capacity.
	EvictionPolicy string
}

// AdaptiveBuffer accumulates flows until either the soft trigger depth
// or the max wait elapses, whichever comes first. It never blocks a
// producer: at capacity it evicts instead.
type AdaptiveBuffer struct {
	mu        sync.Mutex
	cfg       Config
	queue     []model.FlowRecord
	lastFlush time.Time
	evicted   uint64
	logger    *logrus.Logger

	now func() time.Time
}

// New validates the config, fills defaults, and returns a ready buffer.
func New(cfg Config, logger *logrus.Logger) (*AdaptiveBuffer, error) {
	if cfg.SoftTrigger <= 0 {
		cfg.SoftTrigger = DefaultSoftTrigger
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.EvictionPolicy == "" {
		cfg.EvictionPolicy = EvictOldest
	}
	if cfg.EvictionPolicy != EvictOldest && cfg.EvictionPolicy != EvictNewest {
		return nil, fmt.Errorf("unknown eviction policy %q", cfg.EvictionPolicy)
	}
	if cfg.SoftTrigger > cfg.Capacity {
		return nil, fmt.Errorf("soft trigger %d exceeds capacity %d", cfg.SoftTrigger, cfg.Capacity)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &AdaptiveBuffer{
		cfg:       cfg,
		queue:     make([]model.FlowRecord, 0, cfg.Capacity),
		lastFlush: time.Now(),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Submit queues one flow and reports the new depth plus whether a flush
// is now due. At capacity the configured eviction policy decides which
// flow is lost; the producer is never blocked or given an error.
func (b *AdaptiveBuffer) Submit(f model.FlowRecord) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) >= b.cfg.Capacity {
		b.evictLocked()
		if b.cfg.EvictionPolicy == EvictNewest {
			// The incoming flow was the one dropped.
			return len(b.queue), b.flushDueLocked()
		}
	}

	b.queue = append(b.queue, f)
	return len(b.queue), b.flushDueLocked()
}

// evictLocked drops one flow according to the policy and counts it.
func (b *AdaptiveBuffer) evictLocked() {
	if b.cfg.EvictionPolicy == EvictOldest {
		copy(b.queue, b.queue[1:])
		b.queue = b.queue[:len(b.queue)-1]
	}
	b.evicted++
	if b.evicted%evictionLogEvery == 1 {
		b.logger.Warnf("Buffer at capacity (%d), evicting flows via %s (total evicted: %d)",
			b.cfg.Capacity, b.cfg.EvictionPolicy, b.evicted)
	}
}

// ExtractBatch removes and returns up to max flows from the front of
// the queue, oldest first. max <= 0 drains everything. The flush clock
// restarts on every call, including empty ones.
func (b *AdaptiveBuffer) ExtractBatch(max int) []model.FlowRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFlush = b.now()

	n := len(b.queue)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	batch := make([]model.FlowRecord, n)
	copy(batch, b.queue[:n])
	remaining := copy(b.queue, b.queue[n:])
	b.queue = b.queue[:remaining]
	return batch
}

// RestoreFront puts flows back at the head of the queue, preserving
// their order, so a failed batch is retried before newer traffic. If
// the restored flows no longer fit, the configured eviction policy
// picks the overflow: drop_oldest trims the front of the restored
// batch, drop_newest trims the tail of the queue. Returns how many of
// the restored flows were kept.
func (b *AdaptiveBuffer) RestoreFront(flows []model.FlowRecord) int {
	if len(flows) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	overflow := len(flows) + len(b.queue) - b.cfg.Capacity
	if overflow > 0 {
		b.evicted += uint64(overflow)
		if b.cfg.EvictionPolicy == EvictNewest {
			fromQueue := overflow
			if fromQueue > len(b.queue) {
				fromQueue = len(b.queue)
			}
			b.queue = b.queue[:len(b.queue)-fromQueue]
			if rest := overflow - fromQueue; rest > 0 {
				flows = flows[:len(flows)-rest]
			}
			b.logger.Warnf("Restoring failed batch overflowed capacity, dropped %d newest flows", overflow)
		} else {
			if overflow > len(flows) {
				overflow = len(flows)
			}
			flows = flows[overflow:]
			b.logger.Warnf("Restoring failed batch overflowed capacity, dropped %d oldest flows", overflow)
		}
	}

	merged := make([]model.FlowRecord, 0, len(flows)+len(b.queue))
	merged = append(merged, flows...)
	merged = append(merged, b.queue...)
	b.queue = merged
	return len(flows)
}

// TimeoutDue reports whether queued flows have been waiting longer than
// the configured max wait.
func (b *AdaptiveBuffer) TimeoutDue() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeoutDueLocked()
}

func (b *AdaptiveBuffer) timeoutDueLocked() bool {
	return len(b.queue) > 0 && b.now().Sub(b.lastFlush) >= b.cfg.MaxWait
}

func (b *AdaptiveBuffer) flushDueLocked() bool {
	return len(b.queue) >= b.cfg.SoftTrigger || b.timeoutDueLocked()
}

// Len returns the current queue depth.
func (b *AdaptiveBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// LastFlush returns when a batch was last extracted.
func (b *AdaptiveBuffer) LastFlush() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFlush
}

// EvictedTotal returns how many flows have been dropped at capacity
// since the buffer was created.
func (b *AdaptiveBuffer) EvictedTotal() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Utilization returns queue depth as a fraction of capacity.
func (b *AdaptiveBuffer) Utilization() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(len(b.queue)) / float64(b.cfg.Capacity)
}

// Config returns the effective configuration after defaults.
func (b *AdaptiveBuffer) Config() Config {
	return b.cfg
}
