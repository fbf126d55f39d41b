package pipeline

import (
	"sync"
	"time"

	"flow-threat-detector/internal/model"
)

// Status tracks running totals for the detection pipeline.
type Status struct {
	mu               sync.RWMutex
	modelVersion     string
	flowsReceived    uint64
	batchesProcessed uint64
	attacksDetected  uint64
	threatLevel      model.ThreatLevel
	lastBatchAt      time.Time
	lastBatch        *model.BatchStatistics
}

// Snapshot is a point-in-time copy of the pipeline status.
type Snapshot struct {
	ModelVersion     string                 `json:"model_version"`
	FlowsReceived    uint64                 `json:"flows_received"`
	BatchesProcessed uint64                 `json:"batches_processed"`
	AttacksDetected  uint64                 `json:"attacks_detected"`
	ThreatLevel      model.ThreatLevel      `json:"threat_level"`
	LastBatchAt      *time.Time             `json:"last_batch_at,omitempty"`
	LastBatch        *model.BatchStatistics `json:"last_batch,omitempty"`
}

func NewStatus(modelVersion string) *Status {
	return &Status{modelVersion: modelVersion}
}

// RecordSubmission counts one flow accepted into the pipeline.
func (s *Status) RecordSubmission() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowsReceived++
}

// RecordBatch folds a completed batch into the running totals.
func (s *Status) RecordBatch(stats model.BatchStatistics, level model.ThreatLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchesProcessed++
	s.attacksDetected += uint64(stats.AttackPredictions)
	s.threatLevel = level
	s.lastBatchAt = time.Now().UTC()
	s.lastBatch = &stats
}

func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ModelVersion:     s.modelVersion,
		FlowsReceived:    s.flowsReceived,
		BatchesProcessed: s.batchesProcessed,
		AttacksDetected:  s.attacksDetected,
		ThreatLevel:      s.threatLevel,
	}
	if !s.lastBatchAt.IsZero() {
		at := s.lastBatchAt
		snap.LastBatchAt = &at
	}
	if s.lastBatch != nil {
		stats := *s.lastBatch
		snap.LastBatch = &stats
	}
	return snap
}
