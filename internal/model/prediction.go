package model

import "time"

// PredictionResult is the per-flow verdict produced by the ensemble.
// Created once per flow per batch, never mutated.
type PredictionResult struct {
	IsAttack          bool               `json:"is_attack"`
	AttackProbability float64            `json:"attack_probability"`
	BenignProbability float64            `json:"benign_probability"`
	Confidence        float64            `json:"confidence"`
	ModelVersion      string             `json:"model_version"`
	BaseModelScores   map[string]float64 `json:"base_model_scores,omitempty"`
	Explanation       *Explanation       `json:"explanation,omitempty"`
}

// Explanation names the base model that contributed most to a verdict.
type Explanation struct {
	TopBaseModel      string  `json:"top_base_model"`
	TopBaseScore      float64 `json:"top_base_score"`
	DecisionThreshold float64 `json:"decision_threshold"`
}

// BatchStatistics summarizes one scored batch.
type BatchStatistics struct {
	TotalFlows            int     `json:"total_flows"`
	AttackPredictions     int     `json:"attack_predictions"`
	BenignPredictions     int     `json:"benign_predictions"`
	ProcessingTimeMs      float64 `json:"processing_time_ms"`
	ThroughputFlowsPerSec float64 `json:"throughput_flows_per_sec"`
	AverageConfidence     float64 `json:"average_confidence"`
}

// AttackRatePercent returns the batch's attack rate in percent.
func (s *BatchStatistics) AttackRatePercent() float64 {
	if s.TotalFlows == 0 {
		return 0
	}
	return float64(s.AttackPredictions) / float64(s.TotalFlows) * 100
}

// ComputeBatchStatistics derives batch statistics from a prediction set.
func ComputeBatchStatistics(predictions []PredictionResult, elapsed time.Duration) BatchStatistics {
	stats := BatchStatistics{
		TotalFlows:       len(predictions),
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
	}

	var confidenceSum float64
	for i := range predictions {
		if predictions[i].IsAttack {
			stats.AttackPredictions++
		} else {
			stats.BenignPredictions++
		}
		confidenceSum += predictions[i].Confidence
	}

	if stats.TotalFlows > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.TotalFlows)
	}
	if elapsed > 0 {
		stats.ThroughputFlowsPerSec = float64(stats.TotalFlows) / elapsed.Seconds()
	}

	return stats
}

// ThreatLevel is the coarse batch-derived severity classification.
type ThreatLevel int

const (
	ThreatNormal ThreatLevel = iota
	ThreatLow
	ThreatMedium
	ThreatHigh
	ThreatCritical
)

// ThreatLevelForRate maps an attack-rate percentage to a threat level.
// Boundaries are inclusive for the higher tier.
func ThreatLevelForRate(attackRatePct float64) ThreatLevel {
	switch {
	case attackRatePct >= 75:
		return ThreatCritical
	case attackRatePct >= 50:
		return ThreatHigh
	case attackRatePct >= 25:
		return ThreatMedium
	case attackRatePct >= 10:
		return ThreatLow
	default:
		return ThreatNormal
	}
}

func (t ThreatLevel) String() string {
	switch t {
	case ThreatCritical:
		return "CRITICAL"
	case ThreatHigh:
		return "HIGH"
	case ThreatMedium:
		return "MEDIUM"
	case ThreatLow:
		return "LOW"
	default:
		return "NORMAL"
	}
}

// MarshalJSON encodes the level as its string form.
func (t ThreatLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}
