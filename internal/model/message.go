package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageSource identifies this service in published stream messages.
const MessageSource = "flowguard"

// StreamMessage is the payload carried by one durable-log entry.
// Exactly one of BatchResults (batch-result message) or Prediction
// (single-prediction message) is set.
type StreamMessage struct {
	MessageID    string            `json:"message_id"`
	Timestamp    time.Time         `json:"timestamp"`
	ClientID     string            `json:"client_id"`
	ResourceID   string            `json:"resource_id"`
	BatchResults *BatchResults     `json:"batch_results,omitempty"`
	FlowMeta     *FlowMeta         `json:"flow_meta,omitempty"`
	Prediction   *PredictionResult `json:"prediction,omitempty"`
	Source       string            `json:"source"`
}

// BatchResults bundles the predictions and statistics of one batch.
type BatchResults struct {
	Predictions []PredictionResult `json:"predictions"`
	Statistics  BatchStatistics    `json:"statistics"`
}

// FlowMeta is the routing metadata carried by single-prediction
// messages.
type FlowMeta struct {
	SrcIP     string    `json:"src_ip"`
	DstIP     string    `json:"dst_ip"`
	DstPort   int       `json:"dst_port"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBatchMessage builds a batch-result message with a fresh message ID.
func NewBatchMessage(clientID, resourceID string, predictions []PredictionResult, stats BatchStatistics) *StreamMessage {
	return &StreamMessage{
		MessageID:  uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		ClientID:   clientID,
		ResourceID: resourceID,
		BatchResults: &BatchResults{
			Predictions: predictions,
			Statistics:  stats,
		},
		Source: MessageSource,
	}
}

// NewSingleMessage builds a single-prediction message with a fresh
// message ID. meta may be nil when no routing metadata is known.
func NewSingleMessage(clientID, resourceID string, prediction PredictionResult, meta *FlowMeta) *StreamMessage {
	return &StreamMessage{
		MessageID:  uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		ClientID:   clientID,
		ResourceID: resourceID,
		FlowMeta:   meta,
		Prediction: &prediction,
		Source:     MessageSource,
	}
}

// Encode serializes the message for the stream's msg field.
func (m *StreamMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeStreamMessage parses and validates one stream payload. Decoding
// fails closed: structurally valid JSON that is missing the required
// identifiers or a scoring payload is rejected, not patched up.
func DecodeStreamMessage(payload []byte) (*StreamMessage, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var msg StreamMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %v", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the fields every consumer relies on.
func (m *StreamMessage) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("missing message_id")
	}
	if m.ClientID == "" {
		return fmt.Errorf("missing client_id")
	}
	if m.ResourceID == "" {
		return fmt.Errorf("missing resource_id")
	}
	if m.BatchResults == nil && m.Prediction == nil {
		return fmt.Errorf("message carries neither batch_results nor prediction")
	}
	if m.BatchResults != nil && m.Prediction != nil {
		return fmt.Errorf("message carries both batch_results and prediction")
	}
	return nil
}

// IsBatch reports whether this is a batch-result message.
func (m *StreamMessage) IsBatch() bool {
	return m.BatchResults != nil
}
