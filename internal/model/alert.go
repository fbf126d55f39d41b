package model

import (
	"encoding/json"
	"time"
)

// Alert severities, ordered. These are independent of the per-flow
// decision threshold inside the scorer: they are derived from the
// batch attack ratio alone.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert types stored in the alerts table.
const (
	AlertTypeBatchDetection = "ml_batch_detection"
	AlertTypeFlowDetection  = "ml_flow_detection"
)

// Alert is a materialized security event. Created at most once per
// stream message (enforced by the dedup marker), never mutated.
type Alert struct {
	ID              string          `json:"id" db:"id"`
	ClientID        string          `json:"client_id" db:"client_id"`
	ResourceID      string          `json:"resource_id" db:"resource_id"`
	OwnerID         string          `json:"owner_id" db:"owner_id"`
	AlertType       string          `json:"alert_type" db:"alert_type"`
	Severity        string          `json:"severity" db:"severity"`
	Title           string          `json:"title" db:"title"`
	Description     string          `json:"description" db:"description"`
	SourceIP        string          `json:"source_ip" db:"source_ip"`
	DestinationIP   string          `json:"destination_ip" db:"destination_ip"`
	DetectionMethod string          `json:"detection_method" db:"detection_method"`
	ConfidenceScore float64         `json:"confidence_score" db:"confidence_score"`
	Evidence        json.RawMessage `json:"evidence,omitempty" db:"evidence"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// AlertEvidence is the raw material an alert was derived from, stored
// as JSON alongside the alert for manual inspection.
type AlertEvidence struct {
	BatchStats       *BatchStatistics  `json:"batch_stats,omitempty"`
	SamplePrediction *PredictionResult `json:"sample_prediction,omitempty"`
	FlowMeta         *FlowMeta         `json:"flow_meta,omitempty"`
	MessageID        string            `json:"message_id"`
	MessageTimestamp time.Time         `json:"message_timestamp"`
	ReceivedAt       time.Time         `json:"received_at"`
}
